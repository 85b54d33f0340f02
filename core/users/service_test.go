package users

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/botcore/core/errs"
)

// fakeRepo keeps users in memory and counts lookups so tests can assert-on
// cache behavior.
type fakeRepo struct {
	byTelegramID map[int64]*User
	finds        int
	nextID       int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byTelegramID: map[int64]*User{}}
}

func (r *fakeRepo) FindByTelegramID(_ context.Context, _ sqlx.ExtContext, telegramID int64) (*User, error) {
	r.finds++
	u, ok := r.byTelegramID[telegramID]
	if !ok {
		return nil, errs.UserNotRegistered(telegramID)
	}
	cp := *u
	return &cp, nil
}

func (r *fakeRepo) Insert(_ context.Context, _ sqlx.ExtContext, u *User) error {
	r.nextID++
	u.ID = r.nextID
	cp := *u
	r.byTelegramID[u.TelegramID] = &cp
	return nil
}

func (r *fakeRepo) UpdateRole(_ context.Context, _ sqlx.ExtContext, telegramID int64, role Role) error {
	u, ok := r.byTelegramID[telegramID]
	if !ok {
		return errs.UserNotRegistered(telegramID)
	}
	u.Role = role
	return nil
}

func (r *fakeRepo) UpdateProfile(_ context.Context, _ sqlx.ExtContext, u *User) error {
	stored, ok := r.byTelegramID[u.TelegramID]
	if !ok {
		return errs.UserNotRegistered(u.TelegramID)
	}
	stored.Username = u.Username
	stored.FullName = u.FullName
	return nil
}

func TestServiceRegisterNewUser(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, NewCache(10), 0)

	u, created, err := svc.Register(context.Background(), nil, mkUser(42))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, RoleUser, u.Role)
	assert.NotZero(t, u.ID)
}

func TestServiceRegisterFirstAdmin(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, NewCache(10), 42)

	u, created, err := svc.Register(context.Background(), nil, mkUser(42))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, RoleAdmin, u.Role)

	other, created, err := svc.Register(context.Background(), nil, mkUser(43))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, RoleUser, other.Role)
}

func TestServiceRegisterIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, NewCache(10), 0)
	ctx := context.Background()

	first, created, err := svc.Register(ctx, nil, mkUser(42))
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := svc.Register(ctx, nil, mkUser(42))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestServiceRegisterRefreshesProfile(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, NewCache(10), 0)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, nil, mkUser(42))
	require.NoError(t, err)

	renamed := mkUser(42)
	renamed.FullName = "New Name"
	uname := "newname"
	renamed.Username = &uname

	u, created, err := svc.Register(ctx, nil, renamed)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "New Name", u.FullName)
	require.NotNil(t, repo.byTelegramID[42].Username)
	assert.Equal(t, "newname", *repo.byTelegramID[42].Username)
}

func TestServiceLookupUsesCache(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, NewCache(10), 0)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, nil, mkUser(42))
	require.NoError(t, err)
	findsAfterRegister := repo.finds

	for i := 0; i < 3; i++ {
		u, err := svc.GetByTelegramID(ctx, nil, 42)
		require.NoError(t, err)
		assert.EqualValues(t, 42, u.TelegramID)
	}
	assert.Equal(t, findsAfterRegister, repo.finds, "repeated lookups must be served from cache")
}

func TestServiceLookupUnregistered(t *testing.T) {
	svc := NewService(newFakeRepo(), NewCache(10), 0)

	_, err := svc.GetByTelegramID(context.Background(), nil, 99)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUserNotRegistered))
}

func TestServiceChangeRole(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, NewCache(10), 1)
	ctx := context.Background()

	admin, _, err := svc.Register(ctx, nil, mkUser(1))
	require.NoError(t, err)
	_, _, err = svc.Register(ctx, nil, mkUser(2))
	require.NoError(t, err)

	require.NoError(t, svc.ChangeRole(ctx, nil, admin, 2, RoleAdmin))
	assert.Equal(t, RoleAdmin, repo.byTelegramID[2].Role)

	// Cached entry picks up the new role.
	u, err := svc.GetByTelegramID(ctx, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, u.Role)
}

func TestServiceChangeRoleUnauthorized(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, NewCache(10), 0)
	ctx := context.Background()

	plain, _, err := svc.Register(ctx, nil, mkUser(5))
	require.NoError(t, err)

	err = svc.ChangeRole(ctx, nil, plain, 5, RoleAdmin)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindUnauthorized))
}

func TestServiceChangeRoleInvalidRole(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, NewCache(10), 1)
	ctx := context.Background()

	admin, _, err := svc.Register(ctx, nil, mkUser(1))
	require.NoError(t, err)

	err = svc.ChangeRole(ctx, nil, admin, 1, Role("owner"))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInvalidPayload))
}

func TestServiceDefersCachePutsToPendingWrites(t *testing.T) {
	repo := newFakeRepo()
	cache := NewCache(10)
	svc := NewService(repo, cache, 0)

	writes := NewPendingCacheWrites()
	ctx := WithPendingCacheWrites(context.Background(), writes)

	_, created, err := svc.Register(ctx, nil, mkUser(7))
	require.NoError(t, err)
	require.True(t, created)

	_, ok := cache.Get(7)
	assert.False(t, ok, "insert must not populate the cache before flush")

	writes.Flush(context.Background())
	_, ok = cache.Get(7)
	assert.True(t, ok)
}

func TestServiceDefersRoleCacheUpdate(t *testing.T) {
	repo := newFakeRepo()
	cache := NewCache(10)
	svc := NewService(repo, cache, 1)
	ctx := context.Background()

	admin, _, err := svc.Register(ctx, nil, mkUser(1))
	require.NoError(t, err)
	target, _, err := svc.Register(ctx, nil, mkUser(2))
	require.NoError(t, err)
	require.Equal(t, RoleUser, target.Role)

	writes := NewPendingCacheWrites()
	txCtx := WithPendingCacheWrites(ctx, writes)
	require.NoError(t, svc.ChangeRole(txCtx, nil, admin, 2, RoleAdmin))

	cached, ok := cache.Get(2)
	require.True(t, ok)
	assert.Equal(t, RoleUser, cached.Role, "cached role changes only after flush")

	writes.Flush(ctx)
	cached, ok = cache.Get(2)
	require.True(t, ok)
	assert.Equal(t, RoleAdmin, cached.Role)
}

func TestDroppedPendingWritesLeaveNoTrace(t *testing.T) {
	repo := newFakeRepo()
	cache := NewCache(10)
	svc := NewService(repo, cache, 0)

	writes := NewPendingCacheWrites()
	ctx := WithPendingCacheWrites(context.Background(), writes)

	_, _, err := svc.Register(ctx, nil, mkUser(9))
	require.NoError(t, err)

	// A rolled-back transaction never flushes; the collector is discarded.
	_, ok := cache.Get(9)
	assert.False(t, ok)
}
