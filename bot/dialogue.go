package bot

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	tghelpers "github.com/m3rciful/botcore/core/telegram/helpers"
	"github.com/m3rciful/botcore/core/telegram/keyboard"
	"github.com/m3rciful/botcore/core/telegram/request"
	"github.com/m3rciful/botcore/core/telegram/state"
)

const profileDialogueTag = "profile"

// profileDraft accumulates the dialogue's answers until the user confirms.
type profileDraft struct {
	FullName string
}

// registerDialogues wires the multi-step conversations.
func (a *App) registerDialogues() error {
	dlg := &request.Dialogue{
		Tag:          profileDialogueTag,
		Start:        "ask_name",
		AbortMessage: "Something went wrong and the dialogue was cancelled. Try /register again.",
		Deps: request.Deps{
			Session: true,
			User:    &request.UserDep{Required: true, RejectMessage: rejectNotRegistered},
			State: &request.StateDep{
				Tag: profileDialogueTag,
				New: func() any { return new(profileDraft) },
			},
		},
		Steps: map[state.Step]request.StepHandler{
			"ask_name":     a.profileAskName,
			"collect_name": a.profileCollectName,
			"confirm":      a.profileConfirm,
		},
	}
	return a.dialogues.Register(dlg)
}

func (a *App) profileAskName(c tele.Context, _ *request.Scope) (state.Step, error) {
	err := tghelpers.SendText(c, "What name should I store for you?",
		&tele.SendOptions{ReplyMarkup: keyboard.ForceReply()})
	if err != nil {
		return state.End, err
	}
	return "collect_name", nil
}

func (a *App) profileCollectName(c tele.Context, sc *request.Scope) (state.Step, error) {
	name := strings.TrimSpace(c.Text())
	if name == "" {
		if err := tghelpers.SendText(c, "That does not look like a name, try again."); err != nil {
			return state.End, err
		}
		return "collect_name", nil
	}

	draft, err := request.StateOf[profileDraft](sc)
	if err != nil {
		return state.End, err
	}
	draft.FullName = name

	err = tghelpers.SendText(c, fmt.Sprintf("Save %q as your name?", name),
		&tele.SendOptions{ReplyMarkup: keyboard.ReplyButtons([]string{"yes", "no"})})
	if err != nil {
		return state.End, err
	}
	return "confirm", nil
}

func (a *App) profileConfirm(c tele.Context, sc *request.Scope) (state.Step, error) {
	answer := strings.ToLower(strings.TrimSpace(c.Text()))
	switch answer {
	case "yes":
		draft, err := request.StateOf[profileDraft](sc)
		if err != nil {
			return state.End, err
		}

		incoming := userFromSender(c.Sender())
		incoming.FullName = draft.FullName
		tx, err := sc.Tx()
		if err != nil {
			return state.End, err
		}
		if _, _, err := a.services.Users.Register(sc.Context(), tx, incoming); err != nil {
			return state.End, err
		}
		return state.End, tghelpers.SendText(c, "Saved.",
			&tele.SendOptions{ReplyMarkup: keyboard.RemoveKeyboard()})
	case "no":
		return state.End, tghelpers.SendText(c, "Okay, nothing changed.",
			&tele.SendOptions{ReplyMarkup: keyboard.RemoveKeyboard()})
	default:
		if err := tghelpers.SendText(c, "Please answer yes or no."); err != nil {
			return state.End, err
		}
		return "confirm", nil
	}
}
