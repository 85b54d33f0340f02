package request

import (
	"fmt"

	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botcore/core/logger"
	tghelpers "github.com/m3rciful/botcore/core/telegram/helpers"
	"github.com/m3rciful/botcore/core/telegram/state"
)

// StepHandler runs one step of a dialogue and names the next one.
// Returning state.End finishes the dialogue and releases its state.
type StepHandler func(c tele.Context, sc *Scope) (state.Step, error)

// Dialogue is a multi-step conversation. Its steps share one state entry
// under Tag and each step runs with the same resolved dependencies.
type Dialogue struct {
	Tag   string
	Start state.Step
	Steps map[state.Step]StepHandler
	Deps  Deps

	// AbortMessage is sent when a step fails and the dialogue is torn
	// down. Empty aborts silently.
	AbortMessage string
}

// Dialogues routes in-progress conversations to their current step. It
// plugs into the message router as its FSM.
type Dialogues struct {
	resolver *Resolver
	byTag    map[string]*Dialogue
}

// NewDialogues builds an empty dialogue registry over the resolver.
func NewDialogues(r *Resolver) *Dialogues {
	return &Dialogues{resolver: r, byTag: make(map[string]*Dialogue)}
}

// Register adds a dialogue. Tag, Start and the start step must be set.
func (d *Dialogues) Register(dlg *Dialogue) error {
	if dlg == nil || dlg.Tag == "" {
		return fmt.Errorf("dialogue needs a tag")
	}
	if _, ok := dlg.Steps[dlg.Start]; !ok {
		return fmt.Errorf("dialogue %q has no handler for start step %q", dlg.Tag, dlg.Start)
	}
	if _, ok := d.byTag[dlg.Tag]; ok {
		return fmt.Errorf("dialogue %q already registered", dlg.Tag)
	}
	d.byTag[dlg.Tag] = dlg
	return nil
}

// EntryHandler returns the handler that starts the dialogue, suitable for
// registering as a command.
func (d *Dialogues) EntryHandler(tag string) (tele.HandlerFunc, error) {
	dlg, ok := d.byTag[tag]
	if !ok {
		return nil, fmt.Errorf("dialogue %q is not registered", tag)
	}
	return d.runStep(dlg, dlg.Start), nil
}

// InProgress reports whether the user is inside a dialogue.
func (d *Dialogues) InProgress(userID int64) bool {
	return d.resolver.States().InProgress(userID)
}

// ManagerHandler delivers a free-form update to the user's current step.
func (d *Dialogues) ManagerHandler(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	states := d.resolver.States()
	pos, ok := states.Position(sender.ID)
	if !ok {
		return nil
	}

	dlg, ok := d.byTag[pos.Tag]
	if !ok {
		// A dialogue was unregistered while a user was inside it.
		states.ClearUser(sender.ID)
		logger.Warn(tghelpers.BuildContext(c), "tg", "dialogue.orphan",
			slog.String("tag", pos.Tag),
			slog.Int64("user_id", sender.ID),
		)
		return nil
	}
	handler, ok := dlg.Steps[pos.Step]
	if !ok {
		d.finish(c, dlg)
		return nil
	}
	return d.wrapStep(dlg, pos.Step, handler)(c)
}

func (d *Dialogues) runStep(dlg *Dialogue, st state.Step) tele.HandlerFunc {
	return d.wrapStep(dlg, st, dlg.Steps[st])
}

// wrapStep runs one step with resolved dependencies. A failing step tears
// the whole dialogue down: state is released, the failure is logged, and
// the update finishes without an error so the boundary stays quiet.
func (d *Dialogues) wrapStep(dlg *Dialogue, st state.Step, handler StepHandler) tele.HandlerFunc {
	inner := d.resolver.Handler(dlg.Deps, func(c tele.Context, sc *Scope) error {
		next, err := handler(c, sc)
		if err != nil {
			// State goes first; the scope releases the session after.
			d.finish(c, dlg)
			return err
		}
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		if next == state.End {
			d.finish(c, dlg)
			logger.Debug(sc.Context(), "tg", "dialogue.end",
				slog.String("tag", dlg.Tag),
				slog.String("step", string(st)),
				slog.String("outcome", "ended"),
			)
			return nil
		}
		if _, ok := dlg.Steps[next]; !ok {
			d.finish(c, dlg)
			return fmt.Errorf("dialogue %q step %q returned unknown step %q", dlg.Tag, st, next)
		}
		d.resolver.States().SetPosition(sender.ID, dlg.Tag, next)
		return nil
	})

	return func(c tele.Context) error {
		err := inner(c)
		if err == nil {
			return nil
		}
		// Step failures already tore state down; this covers errors from
		// dependency resolution. Clearing twice is a no-op.
		d.finish(c, dlg)
		logger.Warn(tghelpers.BuildContext(c), "tg", "dialogue.abort",
			slog.String("tag", dlg.Tag),
			slog.String("step", string(st)),
			slog.String("outcome", "ended"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		if dlg.AbortMessage != "" {
			return c.Send(dlg.AbortMessage)
		}
		return nil
	}
}

// finish releases the dialogue's state entry and the user's position.
func (d *Dialogues) finish(c tele.Context, dlg *Dialogue) {
	sender := c.Sender()
	if sender == nil {
		return
	}
	states := d.resolver.States()
	states.ClearEntry(sender.ID, dlg.Tag)
	states.ClearPosition(sender.ID)
}
