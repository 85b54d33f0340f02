package middleware

import (
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botcore/core/errs"
	"github.com/m3rciful/botcore/core/users"
)

// AdminOptions defines how admin-only checks behave. Lookup resolves the
// sender to a domain user; unregistered senders are rejected like
// non-admins.
type AdminOptions struct {
	Lookup   func(c tele.Context) (*users.User, error)
	OnReject tele.HandlerFunc
}

// AdminOnlyMiddleware lets only users with the admin role reach downstream
// handlers. Without OnReject the rejection surfaces as an unauthorized
// error for the bot's error boundary.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if opts.Lookup == nil {
				return next(c)
			}
			u, err := opts.Lookup(c)
			if err != nil && !errs.IsKind(err, errs.KindUserNotRegistered) {
				return err
			}
			if u == nil || !u.IsAdmin() {
				if opts.OnReject != nil {
					return opts.OnReject(c)
				}
				return errs.Unauthorized("admin command")
			}
			return next(c)
		}
	}
}
