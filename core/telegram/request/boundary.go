package request

import (
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botcore/core/errs"
	"github.com/m3rciful/botcore/core/logger"
	tghelpers "github.com/m3rciful/botcore/core/telegram/helpers"
)

// BoundaryMessages are the user-facing texts the boundary may send.
// Everything else is logged without replying, so internal failures never
// leak to chat.
type BoundaryMessages struct {
	NotRegistered string
	Unauthorized  string
}

// DefaultBoundaryMessages returns the stock reply texts.
func DefaultBoundaryMessages() BoundaryMessages {
	return BoundaryMessages{
		NotRegistered: "You are not registered yet. Send /start first.",
		Unauthorized:  "You are not allowed to do that.",
	}
}

// ErrorBoundary builds the bot-wide OnError hook. Only unregistered and
// unauthorized senders get a reply; storage and programming errors are
// logged and swallowed.
func ErrorBoundary(msgs BoundaryMessages) func(err error, c tele.Context) {
	if msgs.NotRegistered == "" {
		msgs.NotRegistered = DefaultBoundaryMessages().NotRegistered
	}
	if msgs.Unauthorized == "" {
		msgs.Unauthorized = DefaultBoundaryMessages().Unauthorized
	}

	return func(err error, c tele.Context) {
		if err == nil {
			return
		}
		ctx := logger.Background()
		if c != nil {
			ctx = tghelpers.BuildContext(c)
		}

		kind := errs.KindOf(err)
		attrs := []slog.Attr{
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", boundaryCode(err)),
		}

		switch kind {
		case errs.KindUserNotRegistered:
			logger.Info(ctx, "tg", "boundary.reject", attrs...)
			if c != nil {
				_ = c.Send(msgs.NotRegistered)
			}
		case errs.KindUnauthorized:
			logger.Info(ctx, "tg", "boundary.reject", attrs...)
			if c != nil {
				_ = c.Send(msgs.Unauthorized)
			}
		case errs.KindInvalidPayload, errs.KindStateNotInitialized:
			logger.Warn(ctx, "tg", "boundary.drop", attrs...)
		default:
			logger.Error(ctx, "tg", "boundary.fail", attrs...)
		}
	}
}

func boundaryCode(err error) string {
	if kind := errs.KindOf(err); kind != "" {
		return errs.New(kind, "").Code()
	}
	return "UNKNOWN_ERROR"
}
