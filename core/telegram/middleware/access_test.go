package middleware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botcore/core/errs"
	"github.com/m3rciful/botcore/core/users"
)

func staticLookup(u *users.User, err error) func(tele.Context) (*users.User, error) {
	return func(tele.Context) (*users.User, error) { return u, err }
}

func TestAdminOnlyPassesAdmins(t *testing.T) {
	admin := &users.User{TelegramID: 1, Role: users.RoleAdmin}

	ran := false
	h := AdminOnlyMiddleware(AdminOptions{Lookup: staticLookup(admin, nil)})(func(c tele.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, h(newGateContext(1)))
	assert.True(t, ran)
}

func TestAdminOnlyRejectsPlainUsers(t *testing.T) {
	plain := &users.User{TelegramID: 2, Role: users.RoleUser}

	h := AdminOnlyMiddleware(AdminOptions{Lookup: staticLookup(plain, nil)})(func(c tele.Context) error {
		t.Fatal("handler must not run for non-admins")
		return nil
	})

	err := h(newGateContext(2))
	assert.True(t, errs.IsKind(err, errs.KindUnauthorized))
}

func TestAdminOnlyTreatsUnregisteredAsNonAdmin(t *testing.T) {
	h := AdminOnlyMiddleware(AdminOptions{
		Lookup: staticLookup(nil, errs.UserNotRegistered(3)),
	})(func(c tele.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	err := h(newGateContext(3))
	assert.True(t, errs.IsKind(err, errs.KindUnauthorized))
}

func TestAdminOnlyPropagatesLookupFailures(t *testing.T) {
	boom := errs.Storage("users.find", errors.New("connection reset"))
	h := AdminOnlyMiddleware(AdminOptions{Lookup: staticLookup(nil, boom)})(func(c tele.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	err := h(newGateContext(4))
	assert.True(t, errs.IsKind(err, errs.KindStorage))
}

func TestAdminOnlyUsesOnReject(t *testing.T) {
	plain := &users.User{TelegramID: 5, Role: users.RoleUser}

	rejected := false
	h := AdminOnlyMiddleware(AdminOptions{
		Lookup:   staticLookup(plain, nil),
		OnReject: func(c tele.Context) error { rejected = true; return nil },
	})(func(c tele.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	require.NoError(t, h(newGateContext(5)))
	assert.True(t, rejected)
}
