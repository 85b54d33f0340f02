package bot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botcore/core/errs"
	"github.com/m3rciful/botcore/core/telegram/commands"
	"github.com/m3rciful/botcore/core/telegram/format"
	tghelpers "github.com/m3rciful/botcore/core/telegram/helpers"
	"github.com/m3rciful/botcore/core/telegram/keyboard"
	"github.com/m3rciful/botcore/core/telegram/request"
	"github.com/m3rciful/botcore/core/users"
)

const rejectNotRegistered = "You are not registered yet. Send /start first."

// rolePayload travels inside role-change callback buttons. Keys are short
// because Telegram caps callback data at 64 bytes.
type rolePayload struct {
	TargetID int64  `json:"t"`
	Role     string `json:"r"`
}

func (a *App) registerRoutes() {
	reg := a.registry

	reg.RegisterCommand("/start", commands.Command{
		Handler:     a.handleStart(),
		Description: "Register and say hello",
	})
	reg.RegisterCommand("/whoami", commands.Command{
		Handler:     a.handleWhoami(),
		Description: "Show your account details",
	})
	reg.RegisterCommand("/role", commands.Command{
		Handler:     a.handleRole(),
		Description: "Change a user's role",
		AdminOnly:   true,
	})
	reg.RegisterCommand("/register", commands.Command{
		Handler:     a.handleRegisterEntry(),
		Description: "Update your profile name",
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     a.handleCancel(),
		Description: "Abort the current dialogue",
	})

	if err := reg.RegisterCallback("role", a.handleRoleCallback()); err != nil {
		// Duplicate registration is a wiring bug caught at startup.
		panic(err)
	}
}

// userFromSender maps the Telegram sender to a domain identity.
func userFromSender(sender *tele.User) *users.User {
	full := strings.TrimSpace(strings.TrimSpace(sender.FirstName) + " " + strings.TrimSpace(sender.LastName))
	var username *string
	if sender.Username != "" {
		v := sender.Username
		username = &v
	}
	return &users.User{
		TelegramID: sender.ID,
		Username:   username,
		FullName:   full,
		IsBot:      sender.IsBot,
	}
}

// handleStart registers the sender. Repeating /start is harmless.
func (a *App) handleStart() tele.HandlerFunc {
	return a.resolver.Handler(request.Deps{Session: true}, func(c tele.Context, sc *request.Scope) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}

		tx, err := sc.Tx()
		if err != nil {
			return err
		}
		u, created, err := a.services.Users.Register(sc.Context(), tx, userFromSender(sender))
		if err != nil {
			return err
		}

		if created {
			return tghelpers.SendText(c, fmt.Sprintf("Welcome, %s! You are registered now.", u.DisplayName()))
		}
		return tghelpers.SendText(c, fmt.Sprintf("Welcome back, %s.", u.DisplayName()))
	})
}

// handleWhoami shows the stored identity of the sender.
func (a *App) handleWhoami() tele.HandlerFunc {
	deps := request.Deps{
		User: &request.UserDep{Required: true, RejectMessage: rejectNotRegistered},
	}
	return a.resolver.Handler(deps, func(c tele.Context, sc *request.Scope) error {
		u := sc.User()

		name, err := format.EscapeMarkdown(u.FullName, format.MarkdownV1, "")
		if err != nil {
			name = u.FullName
		}
		text := fmt.Sprintf(
			"*%s*\nid: `%d`\nusername: %s\nrole: %s",
			name,
			u.TelegramID,
			format.DerefString(u.Username, "—"),
			u.Role,
		)
		return tghelpers.SendMD(c, text)
	})
}

// handleRole changes another user's role. With an explicit role argument it
// applies immediately; with just a target it offers inline buttons.
func (a *App) handleRole() tele.HandlerFunc {
	deps := request.Deps{
		Session: true,
		User:    &request.UserDep{Required: true, RejectMessage: rejectNotRegistered},
	}
	return a.resolver.Handler(deps, func(c tele.Context, sc *request.Scope) error {
		args := c.Args()
		if len(args) == 0 {
			return tghelpers.SendText(c, "Usage: /role <telegram_id> [user|admin]")
		}

		targetID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errs.InvalidPayload(err)
		}

		if len(args) >= 2 {
			tx, terr := sc.Tx()
			if terr != nil {
				return terr
			}
			role := users.Role(strings.ToLower(args[1]))
			if cerr := a.services.Users.ChangeRole(sc.Context(), tx, sc.User(), targetID, role); cerr != nil {
				return cerr
			}
			return tghelpers.SendText(c, fmt.Sprintf("Role of %d set to %s.", targetID, role))
		}

		buttons := make([]keyboard.InlineBtn, 0, 2)
		for _, role := range []users.Role{users.RoleUser, users.RoleAdmin} {
			data, merr := json.Marshal(rolePayload{TargetID: targetID, Role: string(role)})
			if merr != nil {
				return merr
			}
			buttons = append(buttons, keyboard.InlineBtn{
				Text:   string(role),
				Unique: "role",
				Data:   string(data),
			})
		}
		markup := keyboard.InlineButtonsNPerRow(buttons, 2)
		return tghelpers.SendText(c, fmt.Sprintf("Pick a role for %d:", targetID), &tele.SendOptions{ReplyMarkup: markup})
	})
}

// handleRoleCallback applies the role picked from the inline keyboard.
func (a *App) handleRoleCallback() tele.HandlerFunc {
	deps := request.Deps{
		Session: true,
		User:    &request.UserDep{Required: true, RejectMessage: rejectNotRegistered},
		Payload: request.JSONPayload[rolePayload](),
	}
	return a.resolver.Handler(deps, func(c tele.Context, sc *request.Scope) error {
		payload, err := request.PayloadOf[*rolePayload](sc)
		if err != nil {
			return err
		}

		tx, err := sc.Tx()
		if err != nil {
			return err
		}
		role := users.Role(payload.Role)
		if err := a.services.Users.ChangeRole(sc.Context(), tx, sc.User(), payload.TargetID, role); err != nil {
			return err
		}
		return c.Edit(fmt.Sprintf("Role of %d set to %s.", payload.TargetID, role))
	})
}

// handleCancel drops whatever dialogue the sender is inside.
func (a *App) handleCancel() tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		states := a.resolver.States()
		if !states.InProgress(sender.ID) {
			return tghelpers.SendText(c, "Nothing to cancel.")
		}
		states.ClearUser(sender.ID)
		return tghelpers.SendText(c, "Cancelled.", &tele.SendOptions{ReplyMarkup: keyboard.RemoveKeyboard()})
	}
}

// handleRegisterEntry starts the profile dialogue.
func (a *App) handleRegisterEntry() tele.HandlerFunc {
	h, err := a.dialogues.EntryHandler(profileDialogueTag)
	if err != nil {
		panic(err)
	}
	return h
}
