package middleware

import (
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botcore/core/logger"
	tghelpers "github.com/m3rciful/botcore/core/telegram/helpers"
	"github.com/m3rciful/botcore/core/telegram/state"
)

// InDialogue passes updates through only while the sender is inside the
// given dialogue. Anything else is dropped silently, so parallel dialogues
// do not steal each other's messages.
func InDialogue(store *state.Store, tag string) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil || store == nil {
				return nil
			}
			pos, ok := store.Position(sender.ID)
			if ok && pos.Tag == tag {
				return next(c)
			}
			logger.Debug(tghelpers.BuildContext(c), "tg", "dialogue.skip",
				slog.Int64("user_id", sender.ID),
				slog.String("tag", tag),
			)
			return nil
		}
	}
}
