package request

import (
	"context"

	"github.com/jmoiron/sqlx"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botcore/core/database"
	"github.com/m3rciful/botcore/core/errs"
	"github.com/m3rciful/botcore/core/users"
)

// Session is the transactional handle a scope hands to handlers. The
// concrete implementation lives in core/database; tests substitute fakes.
type Session interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Tx() *sqlx.Tx
}

// SessionFactory opens sessions on demand.
type SessionFactory interface {
	Begin(ctx context.Context) (Session, error)
}

type dbSessions struct {
	factory *database.Factory
}

func (d dbSessions) Begin(ctx context.Context) (Session, error) {
	s, err := d.factory.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DBSessionFactory adapts the database session factory to the resolver.
func DBSessionFactory(f *database.Factory) SessionFactory {
	return dbSessions{factory: f}
}

const scopeKey = "request_scope"

// Scope carries everything resolved for one update. It lives on the
// tele.Context, so nested calls during the same update see the same session
// and user instead of opening their own.
type Scope struct {
	ctx      context.Context
	sessions SessionFactory
	writes   *users.PendingCacheWrites

	session Session
	user    *users.User
	state   any
	payload any
}

// newScope builds the per-update scope. Identity-cache writes made through
// the scope's context are held back until the session commits.
func newScope(ctx context.Context, sessions SessionFactory) *Scope {
	writes := users.NewPendingCacheWrites()
	return &Scope{
		ctx:      users.WithPendingCacheWrites(ctx, writes),
		sessions: sessions,
		writes:   writes,
	}
}

// ScopeFrom returns the scope attached to the update, if any.
func ScopeFrom(c tele.Context) (*Scope, bool) {
	if c == nil {
		return nil, false
	}
	sc, ok := c.Get(scopeKey).(*Scope)
	return sc, ok
}

func attachScope(c tele.Context, sc *Scope) {
	c.Set(scopeKey, sc)
}

// Context returns the update-scoped context carrying the request id and
// update metadata.
func (sc *Scope) Context() context.Context {
	return sc.ctx
}

// Session returns the update's transaction, opening one on first use.
// Every caller within the update shares the same handle; the resolver
// releases it exactly once after the handler returns.
func (sc *Scope) Session() (Session, error) {
	if sc.session != nil {
		return sc.session, nil
	}
	if sc.sessions == nil {
		return nil, errs.New(errs.KindStorage, "no session factory configured")
	}
	s, err := sc.sessions.Begin(sc.ctx)
	if err != nil {
		return nil, err
	}
	sc.session = s
	return s, nil
}

// Tx returns the executor for repositories, opening the session on first
// use.
func (sc *Scope) Tx() (*sqlx.Tx, error) {
	s, err := sc.Session()
	if err != nil {
		return nil, err
	}
	return s.Tx(), nil
}

// User returns the resolved sender. Nil when no user dependency was
// declared or the sender is not registered and the dependency was optional.
func (sc *Scope) User() *users.User {
	return sc.user
}

// StateEntry returns the raw dialogue state resolved for the handler.
// Use StateOf for the typed form.
func (sc *Scope) StateEntry() any {
	return sc.state
}

// PayloadValue returns the decoded payload. Use PayloadOf for the typed
// form.
func (sc *Scope) PayloadValue() any {
	return sc.payload
}

// release hands the session back: commit when the handler succeeded,
// rollback otherwise. Safe to call when no session was ever opened.
// Deferred cache writes apply only once the commit went through; a
// rollback drops them so the cache never holds discarded rows.
func (sc *Scope) release(ok bool) error {
	if sc.session == nil {
		if ok {
			sc.flushWrites()
		}
		return nil
	}
	s := sc.session
	sc.session = nil
	if !ok {
		return s.Rollback(sc.ctx)
	}
	if err := s.Commit(sc.ctx); err != nil {
		return err
	}
	sc.flushWrites()
	return nil
}

func (sc *Scope) flushWrites() {
	if sc.writes != nil {
		sc.writes.Flush(sc.ctx)
	}
}

// StateOf returns the scope's dialogue state as *T.
func StateOf[T any](sc *Scope) (*T, error) {
	v, ok := sc.state.(*T)
	if !ok {
		return nil, errs.StateNotInitialized("")
	}
	return v, nil
}

// PayloadOf returns the scope's decoded payload as T.
func PayloadOf[T any](sc *Scope) (T, error) {
	v, ok := sc.payload.(T)
	if !ok {
		var zero T
		return zero, errs.InvalidPayload(nil)
	}
	return v, nil
}
