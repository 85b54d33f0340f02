package request

import (
	"fmt"

	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botcore/core/errs"
	"github.com/m3rciful/botcore/core/logger"
	tghelpers "github.com/m3rciful/botcore/core/telegram/helpers"
	"github.com/m3rciful/botcore/core/telegram/state"
	"github.com/m3rciful/botcore/core/users"
)

// UserLookup resolves a Telegram ID to a domain user. The scope supplies
// the transaction on cache misses.
type UserLookup func(sc *Scope, telegramID int64) (*users.User, error)

// HandlerFunc is a handler body that receives its resolved dependencies.
type HandlerFunc func(c tele.Context, sc *Scope) error

// Config wires the resolver's collaborators.
type Config struct {
	Sessions SessionFactory
	Lookup   UserLookup
	States   *state.Store

	// Reject delivers the user-facing text when a required user is
	// missing. Defaults to c.Send.
	Reject func(c tele.Context, message string) error
}

// Resolver turns dependency declarations into ready-to-register telebot
// handlers.
type Resolver struct {
	sessions SessionFactory
	lookup   UserLookup
	states   *state.Store
	reject   func(c tele.Context, message string) error
}

// NewResolver builds a resolver from its collaborators.
func NewResolver(cfg Config) *Resolver {
	reject := cfg.Reject
	if reject == nil {
		reject = func(c tele.Context, message string) error {
			return c.Send(message)
		}
	}
	return &Resolver{
		sessions: cfg.Sessions,
		lookup:   cfg.Lookup,
		states:   cfg.States,
		reject:   reject,
	}
}

// States exposes the dialogue state store shared with the dialogue registry.
func (r *Resolver) States() *state.Store {
	return r.states
}

// LookupUser resolves a user through the configured lookup. Used by
// handlers that need a second identity beside the sender.
func (r *Resolver) LookupUser(sc *Scope, telegramID int64) (*users.User, error) {
	if r.lookup == nil {
		return nil, errs.UserNotRegistered(telegramID)
	}
	return r.lookup(sc, telegramID)
}

// Handler wraps fn so its dependencies are resolved before the body runs
// and released after it returns. The session commits when the body
// succeeds; any error, panic or cancelled update rolls it back. Exactly one
// of commit/rollback happens per update regardless of how many nested
// calls touched the session.
func (r *Resolver) Handler(deps Deps, fn HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		ctx := tghelpers.BuildContext(c)

		sc, reused := ScopeFrom(c)
		if !reused {
			sc = newScope(ctx, r.sessions)
			attachScope(c, sc)
		}

		released := false
		release := func(ok bool) {
			if released || reused {
				// The outermost handler owns the session.
				released = true
				return
			}
			released = true
			if rerr := sc.release(ok); rerr != nil && err == nil {
				err = rerr
			}
		}

		defer func() {
			if rec := recover(); rec != nil {
				if !released && !reused {
					released = true
					_ = sc.release(false)
				}
				panic(rec)
			}
		}()

		if proceed, rerr := r.resolve(c, sc, deps); rerr != nil {
			release(false)
			return rerr
		} else if !proceed {
			release(false)
			return err
		}

		if ferr := fn(c, sc); ferr != nil {
			err = ferr
			release(false)
			return err
		}

		if cerr := ctx.Err(); cerr != nil {
			err = cerr
			release(false)
			return err
		}

		release(true)
		return err
	}
}

// resolve builds the declared dependencies in order. It returns proceed
// false when resolution finished the update without running the body, such
// as a rejected required user.
func (r *Resolver) resolve(c tele.Context, sc *Scope, deps Deps) (bool, error) {
	if deps.Session || deps.User != nil {
		if _, err := sc.Session(); err != nil {
			return false, err
		}
	}

	if deps.User != nil {
		proceed, err := r.resolveUser(c, sc, deps.User)
		if err != nil || !proceed {
			return proceed, err
		}
	}

	if deps.State != nil {
		if err := r.resolveState(c, sc, deps.State); err != nil {
			return false, err
		}
	}

	if deps.Payload != nil {
		if deps.Payload.Decode == nil {
			return false, errs.InvalidPayload(fmt.Errorf("no decoder"))
		}
		v, err := deps.Payload.Decode(c)
		if err != nil {
			if errs.KindOf(err) == "" {
				err = errs.InvalidPayload(err)
			}
			return false, err
		}
		sc.payload = v
	}

	return true, nil
}

func (r *Resolver) resolveUser(c tele.Context, sc *Scope, dep *UserDep) (bool, error) {
	sender := c.Sender()
	if sender == nil {
		if dep.Required {
			return false, errs.UserNotRegistered(0)
		}
		return true, nil
	}

	u, err := r.LookupUser(sc, sender.ID)
	switch {
	case err == nil:
		sc.user = u
		return true, nil
	case errs.IsKind(err, errs.KindUserNotRegistered):
		if !dep.Required {
			return true, nil
		}
		logger.Info(sc.ctx, "tg", "request.reject",
			slog.String("status", "skip"),
			slog.Int64("user_id", sender.ID),
			slog.String("err_code", "USER_NOT_REGISTERED"),
		)
		if dep.RejectMessage != "" {
			if serr := r.reject(c, dep.RejectMessage); serr != nil {
				return false, serr
			}
		}
		return false, nil
	default:
		return false, err
	}
}

func (r *Resolver) resolveState(c tele.Context, sc *Scope, dep *StateDep) error {
	if r.states == nil {
		return errs.StateNotInitialized(dep.Tag)
	}
	sender := c.Sender()
	if sender == nil {
		return errs.StateNotInitialized(dep.Tag)
	}

	if dep.New != nil {
		sc.state = r.states.GetOrInitEntry(sender.ID, dep.Tag, dep.New)
		return nil
	}
	v, err := r.states.Entry(sender.ID, dep.Tag)
	if err != nil {
		return err
	}
	sc.state = v
	return nil
}
