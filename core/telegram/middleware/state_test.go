package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/botcore/core/telegram/state"
)

type gateContext struct {
	tele.Context

	store  map[string]any
	sender *tele.User
}

func newGateContext(senderID int64) *gateContext {
	return &gateContext{
		store:  map[string]any{},
		sender: &tele.User{ID: senderID},
	}
}

func (g *gateContext) Set(key string, val any) { g.store[key] = val }
func (g *gateContext) Get(key string) any      { return g.store[key] }
func (g *gateContext) Sender() *tele.User      { return g.sender }
func (g *gateContext) Chat() *tele.Chat        { return &tele.Chat{ID: g.sender.ID} }
func (g *gateContext) Update() tele.Update     { return tele.Update{ID: 1} }

func TestInDialoguePassesMatchingTag(t *testing.T) {
	store := state.NewStore()
	store.SetPosition(1, "signup", "ask_name")

	ran := false
	h := InDialogue(store, "signup")(func(c tele.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, h(newGateContext(1)))
	assert.True(t, ran)
}

func TestInDialogueDropsOtherTags(t *testing.T) {
	store := state.NewStore()
	store.SetPosition(1, "signup", "ask_name")

	h := InDialogue(store, "feedback")(func(c tele.Context) error {
		t.Fatal("handler must not run for another dialogue")
		return nil
	})

	require.NoError(t, h(newGateContext(1)))
}

func TestInDialogueDropsIdleUsers(t *testing.T) {
	h := InDialogue(state.NewStore(), "signup")(func(c tele.Context) error {
		t.Fatal("handler must not run outside a dialogue")
		return nil
	})

	require.NoError(t, h(newGateContext(1)))
}
