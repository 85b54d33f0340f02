package request

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botcore/core/errs"
	tghelpers "github.com/m3rciful/botcore/core/telegram/helpers"
	"github.com/m3rciful/botcore/core/telegram/state"
	"github.com/m3rciful/botcore/core/users"
)

// fakeContext implements just enough of tele.Context for the resolver.
// Calls to anything else panic, which is what we want in tests.
type fakeContext struct {
	tele.Context

	store    map[string]any
	sender   *tele.User
	chat     *tele.Chat
	text     string
	callback *tele.Callback
	sent     []string
}

func newFakeContext(senderID int64) *fakeContext {
	return &fakeContext{
		store:  map[string]any{},
		sender: &tele.User{ID: senderID},
		chat:   &tele.Chat{ID: senderID},
	}
}

func (f *fakeContext) Set(key string, val any)  { f.store[key] = val }
func (f *fakeContext) Get(key string) any       { return f.store[key] }
func (f *fakeContext) Sender() *tele.User       { return f.sender }
func (f *fakeContext) Chat() *tele.Chat         { return f.chat }
func (f *fakeContext) Text() string             { return f.text }
func (f *fakeContext) Callback() *tele.Callback { return f.callback }
func (f *fakeContext) Update() tele.Update      { return tele.Update{ID: 1} }

func (f *fakeContext) Send(what any, _ ...any) error {
	f.sent = append(f.sent, fmt.Sprint(what))
	return nil
}

// fakeSession counts releases so tests can assert exactly-once semantics.
type fakeSession struct {
	commits    int
	rollbacks  int
	commitErr  error
	onRollback func()
}

func (s *fakeSession) Commit(context.Context) error {
	s.commits++
	return s.commitErr
}

func (s *fakeSession) Rollback(context.Context) error {
	s.rollbacks++
	if s.onRollback != nil {
		s.onRollback()
	}
	return nil
}

func (s *fakeSession) Tx() *sqlx.Tx { return nil }

type fakeSessions struct {
	begins     int
	beginErr   error
	last       *fakeSession
	onRollback func()
}

func (f *fakeSessions) Begin(context.Context) (Session, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.begins++
	f.last = &fakeSession{onRollback: f.onRollback}
	return f.last, nil
}

func lookupFromMap(m map[int64]*users.User, calls *int) UserLookup {
	return func(_ *Scope, telegramID int64) (*users.User, error) {
		if calls != nil {
			*calls++
		}
		u, ok := m[telegramID]
		if !ok {
			return nil, errs.UserNotRegistered(telegramID)
		}
		return u, nil
	}
}

func newTestResolver(sessions *fakeSessions, lookup UserLookup) *Resolver {
	return NewResolver(Config{
		Sessions: sessions,
		Lookup:   lookup,
		States:   state.NewStore(),
	})
}

func TestHandlerCommitsOnSuccess(t *testing.T) {
	sessions := &fakeSessions{}
	r := newTestResolver(sessions, nil)

	ran := false
	h := r.Handler(Deps{Session: true}, func(c tele.Context, sc *Scope) error {
		ran = true
		return nil
	})

	require.NoError(t, h(newFakeContext(1)))
	assert.True(t, ran)
	assert.Equal(t, 1, sessions.begins)
	assert.Equal(t, 1, sessions.last.commits)
	assert.Equal(t, 0, sessions.last.rollbacks)
}

func TestHandlerRollsBackOnError(t *testing.T) {
	sessions := &fakeSessions{}
	r := newTestResolver(sessions, nil)

	boom := errors.New("boom")
	h := r.Handler(Deps{Session: true}, func(c tele.Context, sc *Scope) error {
		return boom
	})

	err := h(newFakeContext(1))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, sessions.last.commits)
	assert.Equal(t, 1, sessions.last.rollbacks)
}

func TestHandlerRollsBackOnPanic(t *testing.T) {
	sessions := &fakeSessions{}
	r := newTestResolver(sessions, nil)

	h := r.Handler(Deps{Session: true}, func(c tele.Context, sc *Scope) error {
		panic("handler exploded")
	})

	assert.Panics(t, func() { _ = h(newFakeContext(1)) })
	assert.Equal(t, 0, sessions.last.commits)
	assert.Equal(t, 1, sessions.last.rollbacks)
}

func TestHandlerRollsBackOnCancellation(t *testing.T) {
	sessions := &fakeSessions{}
	r := newTestResolver(sessions, nil)

	ctx, cancel := context.WithCancel(context.Background())
	c := newFakeContext(1)
	tghelpers.StoreContext(c, ctx)

	h := r.Handler(Deps{Session: true}, func(c tele.Context, sc *Scope) error {
		cancel()
		return nil
	})

	err := h(c)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sessions.last.commits)
	assert.Equal(t, 1, sessions.last.rollbacks)
}

func TestHandlerCommitFailureSurfaces(t *testing.T) {
	sessions := &fakeSessions{}
	r := newTestResolver(sessions, nil)

	h := r.Handler(Deps{Session: true}, func(c tele.Context, sc *Scope) error {
		sessions.last.commitErr = errs.Storage("commit", errors.New("disk on fire"))
		return nil
	})

	err := h(newFakeContext(1))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindStorage))
}

func TestNestedHandlersShareOneSession(t *testing.T) {
	sessions := &fakeSessions{}
	r := newTestResolver(sessions, nil)

	inner := r.Handler(Deps{Session: true}, func(c tele.Context, sc *Scope) error {
		_, err := sc.Session()
		return err
	})

	h := r.Handler(Deps{Session: true}, func(c tele.Context, sc *Scope) error {
		// Same update, nested handler and repeated access: one session.
		if _, err := sc.Session(); err != nil {
			return err
		}
		return inner(c)
	})

	require.NoError(t, h(newFakeContext(1)))
	assert.Equal(t, 1, sessions.begins)
	assert.Equal(t, 1, sessions.last.commits)
	assert.Equal(t, 0, sessions.last.rollbacks)
}

func TestHandlerLazySessionOnDemand(t *testing.T) {
	sessions := &fakeSessions{}
	r := newTestResolver(sessions, nil)

	h := r.Handler(Deps{}, func(c tele.Context, sc *Scope) error {
		_, err := sc.Session()
		return err
	})

	require.NoError(t, h(newFakeContext(1)))
	assert.Equal(t, 1, sessions.begins)
	assert.Equal(t, 1, sessions.last.commits, "a session opened mid-handler is still committed")
}

func TestHandlerNoSessionWithoutNeed(t *testing.T) {
	sessions := &fakeSessions{}
	r := newTestResolver(sessions, nil)

	h := r.Handler(Deps{}, func(c tele.Context, sc *Scope) error {
		return nil
	})

	require.NoError(t, h(newFakeContext(1)))
	assert.Equal(t, 0, sessions.begins)
}

func TestRequiredUserResolved(t *testing.T) {
	known := map[int64]*users.User{42: {TelegramID: 42, Role: users.RoleUser}}
	sessions := &fakeSessions{}
	r := newTestResolver(sessions, lookupFromMap(known, nil))

	var got *users.User
	h := r.Handler(Deps{User: &UserDep{Required: true}}, func(c tele.Context, sc *Scope) error {
		got = sc.User()
		return nil
	})

	require.NoError(t, h(newFakeContext(42)))
	require.NotNil(t, got)
	assert.EqualValues(t, 42, got.TelegramID)
	assert.Equal(t, 1, sessions.last.commits, "user resolution runs inside the session")
}

func TestRequiredUserShortCircuit(t *testing.T) {
	sessions := &fakeSessions{}
	r := newTestResolver(sessions, lookupFromMap(map[int64]*users.User{}, nil))

	ran := false
	h := r.Handler(Deps{User: &UserDep{Required: true, RejectMessage: "register first"}}, func(c tele.Context, sc *Scope) error {
		ran = true
		return nil
	})

	c := newFakeContext(7)
	require.NoError(t, h(c))
	assert.False(t, ran, "body must not run for unregistered senders")
	assert.Equal(t, []string{"register first"}, c.sent)
	assert.Equal(t, 0, sessions.last.commits)
	assert.Equal(t, 1, sessions.last.rollbacks)
}

func TestRequiredUserSilentReject(t *testing.T) {
	r := newTestResolver(&fakeSessions{}, lookupFromMap(map[int64]*users.User{}, nil))

	h := r.Handler(Deps{User: &UserDep{Required: true}}, func(c tele.Context, sc *Scope) error {
		t.Fatal("body must not run")
		return nil
	})

	c := newFakeContext(7)
	require.NoError(t, h(c))
	assert.Empty(t, c.sent)
}

func TestOptionalUserMissing(t *testing.T) {
	r := newTestResolver(&fakeSessions{}, lookupFromMap(map[int64]*users.User{}, nil))

	ran := false
	h := r.Handler(Deps{User: &UserDep{}}, func(c tele.Context, sc *Scope) error {
		ran = true
		assert.Nil(t, sc.User())
		return nil
	})

	require.NoError(t, h(newFakeContext(7)))
	assert.True(t, ran)
}

func TestUserLookupFailurePropagates(t *testing.T) {
	sessions := &fakeSessions{}
	r := newTestResolver(sessions, func(_ *Scope, _ int64) (*users.User, error) {
		return nil, errs.Storage("users.find", errors.New("connection reset"))
	})

	h := r.Handler(Deps{User: &UserDep{Required: true}}, func(c tele.Context, sc *Scope) error {
		t.Fatal("body must not run")
		return nil
	})

	err := h(newFakeContext(7))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindStorage))
	assert.Equal(t, 1, sessions.last.rollbacks)
}

func TestStateGetOrInitSameInstance(t *testing.T) {
	r := newTestResolver(&fakeSessions{}, nil)

	type draft struct{ Name string }
	deps := Deps{State: &StateDep{Tag: "draft", New: func() any { return new(draft) }}}

	h1 := r.Handler(deps, func(c tele.Context, sc *Scope) error {
		d, err := StateOf[draft](sc)
		require.NoError(t, err)
		d.Name = "alice"
		return nil
	})
	h2 := r.Handler(deps, func(c tele.Context, sc *Scope) error {
		d, err := StateOf[draft](sc)
		require.NoError(t, err)
		assert.Equal(t, "alice", d.Name)
		return nil
	})

	require.NoError(t, h1(newFakeContext(1)))
	require.NoError(t, h2(newFakeContext(1)))
}

func TestStateRequiresInit(t *testing.T) {
	r := newTestResolver(&fakeSessions{}, nil)

	h := r.Handler(Deps{State: &StateDep{Tag: "draft"}}, func(c tele.Context, sc *Scope) error {
		t.Fatal("body must not run")
		return nil
	})

	err := h(newFakeContext(1))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindStateNotInitialized))
}

func TestInvalidPayloadSkipsBody(t *testing.T) {
	r := newTestResolver(&fakeSessions{}, nil)

	h := r.Handler(Deps{Payload: Int64Payload()}, func(c tele.Context, sc *Scope) error {
		t.Fatal("body must not run")
		return nil
	})

	c := newFakeContext(1)
	c.callback = &tele.Callback{Data: "\\frole|not-a-number"}
	err := h(c)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInvalidPayload))
}

func TestInt64PayloadDecodes(t *testing.T) {
	r := newTestResolver(&fakeSessions{}, nil)

	var got int64
	h := r.Handler(Deps{Payload: Int64Payload()}, func(c tele.Context, sc *Scope) error {
		v, err := PayloadOf[int64](sc)
		if err != nil {
			return err
		}
		got = v
		return nil
	})

	c := newFakeContext(1)
	c.callback = &tele.Callback{Data: "\\frole|451"}
	require.NoError(t, h(c))
	assert.EqualValues(t, 451, got)
}

func TestJSONPayloadDecodes(t *testing.T) {
	type rolePayload struct {
		TargetID int64  `json:"target_id"`
		Role     string `json:"role"`
	}
	r := newTestResolver(&fakeSessions{}, nil)

	var got *rolePayload
	h := r.Handler(Deps{Payload: JSONPayload[rolePayload]()}, func(c tele.Context, sc *Scope) error {
		v, err := PayloadOf[*rolePayload](sc)
		if err != nil {
			return err
		}
		got = v
		return nil
	})

	c := newFakeContext(1)
	c.callback = &tele.Callback{Data: "\\frole|{\"target_id\":99,\"role\":\"admin\"}"}
	require.NoError(t, h(c))
	require.NotNil(t, got)
	assert.EqualValues(t, 99, got.TargetID)
	assert.Equal(t, "admin", got.Role)
}

func TestTextPayloadRejectsBlank(t *testing.T) {
	r := newTestResolver(&fakeSessions{}, nil)

	h := r.Handler(Deps{Payload: TextPayload()}, func(c tele.Context, sc *Scope) error {
		t.Fatal("body must not run")
		return nil
	})

	c := newFakeContext(1)
	c.text = "   "
	err := h(c)
	assert.True(t, errs.IsKind(err, errs.KindInvalidPayload))
}

func TestBeginFailureSurfacesAsStorage(t *testing.T) {
	sessions := &fakeSessions{beginErr: errs.Storage("begin", errors.New("too many clients"))}
	r := newTestResolver(sessions, nil)

	h := r.Handler(Deps{Session: true}, func(c tele.Context, sc *Scope) error {
		t.Fatal("body must not run")
		return nil
	})

	err := h(newFakeContext(1))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindStorage))
}

// memoryRepo is an in-process users.Repository for exercising the service
// inside scoped handlers.
type memoryRepo struct {
	byTelegramID map[int64]*users.User
	nextID       int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byTelegramID: map[int64]*users.User{}}
}

func (r *memoryRepo) FindByTelegramID(_ context.Context, _ sqlx.ExtContext, telegramID int64) (*users.User, error) {
	u, ok := r.byTelegramID[telegramID]
	if !ok {
		return nil, errs.UserNotRegistered(telegramID)
	}
	cp := *u
	return &cp, nil
}

func (r *memoryRepo) Insert(_ context.Context, _ sqlx.ExtContext, u *users.User) error {
	r.nextID++
	u.ID = r.nextID
	cp := *u
	r.byTelegramID[u.TelegramID] = &cp
	return nil
}

func (r *memoryRepo) UpdateRole(_ context.Context, _ sqlx.ExtContext, telegramID int64, role users.Role) error {
	u, ok := r.byTelegramID[telegramID]
	if !ok {
		return errs.UserNotRegistered(telegramID)
	}
	u.Role = role
	return nil
}

func (r *memoryRepo) UpdateProfile(_ context.Context, _ sqlx.ExtContext, u *users.User) error {
	stored, ok := r.byTelegramID[u.TelegramID]
	if !ok {
		return errs.UserNotRegistered(u.TelegramID)
	}
	stored.Username = u.Username
	stored.FullName = u.FullName
	return nil
}

func TestRolledBackRegistrationNotCached(t *testing.T) {
	cache := users.NewCache(10)
	svc := users.NewService(newMemoryRepo(), cache, 0)
	sessions := &fakeSessions{}
	r := newTestResolver(sessions, nil)

	boom := errors.New("boom")
	h := r.Handler(Deps{Session: true}, func(c tele.Context, sc *Scope) error {
		if _, _, err := svc.Register(sc.Context(), nil, &users.User{TelegramID: 77}); err != nil {
			return err
		}
		return boom
	})

	require.ErrorIs(t, h(newFakeContext(77)), boom)
	assert.Equal(t, 1, sessions.last.rollbacks)
	_, ok := cache.Get(77)
	assert.False(t, ok, "cache must not keep an identity whose insert was rolled back")
}

func TestCommittedRegistrationCachedAfterRelease(t *testing.T) {
	cache := users.NewCache(10)
	svc := users.NewService(newMemoryRepo(), cache, 0)
	sessions := &fakeSessions{}
	r := newTestResolver(sessions, nil)

	h := r.Handler(Deps{Session: true}, func(c tele.Context, sc *Scope) error {
		if _, _, err := svc.Register(sc.Context(), nil, &users.User{TelegramID: 77}); err != nil {
			return err
		}
		_, cached := cache.Get(77)
		assert.False(t, cached, "put is deferred while the transaction is open")
		return nil
	})

	require.NoError(t, h(newFakeContext(77)))
	assert.Equal(t, 1, sessions.last.commits)
	_, ok := cache.Get(77)
	assert.True(t, ok, "put lands once the session committed")
}
