package bot

import (
	tele "gopkg.in/telebot.v4"

	tghelpers "github.com/m3rciful/botcore/core/telegram/helpers"
	"github.com/m3rciful/botcore/core/telegram/ui"
)

// fallbacks answers updates nothing else claimed.
type fallbacks struct{}

func newFallbacks() ui.FallbackProvider {
	return fallbacks{}
}

func (fallbacks) UnknownText() tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.SendText(c, "I don't know that command. Try /start.")
	}
}

func (fallbacks) UnknownDocument() tele.HandlerFunc {
	return func(c tele.Context) error {
		return tghelpers.SendText(c, "I wasn't expecting a file here.")
	}
}

func (fallbacks) UnknownCallback() tele.HandlerFunc {
	return func(c tele.Context) error {
		return c.Respond(&tele.CallbackResponse{Text: "This button is no longer active."})
	}
}
