package request

import (
	"encoding/json"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botcore/core/errs"
	"github.com/m3rciful/botcore/core/telegram/callbacks"
)

// JSONPayload decodes the callback payload as JSON into *T.
func JSONPayload[T any]() *PayloadDep {
	return &PayloadDep{
		Decode: func(c tele.Context) (any, error) {
			raw := callbacks.CallbackPayload(c)
			if raw == "" {
				return nil, errs.InvalidPayload(nil)
			}
			v := new(T)
			if err := json.Unmarshal([]byte(raw), v); err != nil {
				return nil, errs.InvalidPayload(err)
			}
			return v, nil
		},
	}
}

// Int64Payload decodes the callback payload as a single int64.
func Int64Payload() *PayloadDep {
	return &PayloadDep{
		Decode: func(c tele.Context) (any, error) {
			v, err := callbacks.PayloadInt64(c)
			if err != nil {
				return nil, errs.InvalidPayload(err)
			}
			return v, nil
		},
	}
}

// TextPayload captures the message text, trimmed. Empty text fails with
// invalid_payload so step handlers never see blank input.
func TextPayload() *PayloadDep {
	return &PayloadDep{
		Decode: func(c tele.Context) (any, error) {
			text := strings.TrimSpace(c.Text())
			if text == "" {
				return nil, errs.InvalidPayload(nil)
			}
			return text, nil
		},
	}
}
