package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/botcore/core/errs"
)

type surveyState struct {
	Name string
	Age  int
}

func TestGetOrInitReturnsSameInstance(t *testing.T) {
	s := NewStore()

	first := GetOrInit[surveyState](s, 1, "survey")
	first.Name = "alice"

	second := GetOrInit[surveyState](s, 1, "survey")
	assert.Same(t, first, second)
	assert.Equal(t, "alice", second.Name)
}

func TestGetOrInitIsolatesUsersAndTags(t *testing.T) {
	s := NewStore()

	a := GetOrInit[surveyState](s, 1, "survey")
	b := GetOrInit[surveyState](s, 2, "survey")
	c := GetOrInit[surveyState](s, 1, "feedback")

	assert.NotSame(t, a, b)
	assert.NotSame(t, a, c)
}

func TestGetRequiresInit(t *testing.T) {
	s := NewStore()

	_, err := Get[surveyState](s, 1, "survey")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindStateNotInitialized))

	GetOrInit[surveyState](s, 1, "survey")
	v, err := Get[surveyState](s, 1, "survey")
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestClearEntryIdempotent(t *testing.T) {
	s := NewStore()
	GetOrInit[surveyState](s, 1, "survey")

	s.ClearEntry(1, "survey")
	s.ClearEntry(1, "survey") // second clear is a no-op

	_, err := Get[surveyState](s, 1, "survey")
	assert.True(t, errs.IsKind(err, errs.KindStateNotInitialized))
}

func TestClearReleasesInstance(t *testing.T) {
	s := NewStore()

	first := GetOrInit[surveyState](s, 1, "survey")
	first.Name = "alice"
	s.ClearEntry(1, "survey")

	fresh := GetOrInit[surveyState](s, 1, "survey")
	assert.NotSame(t, first, fresh)
	assert.Empty(t, fresh.Name)
}

func TestClearUserDropsEverything(t *testing.T) {
	s := NewStore()
	GetOrInit[surveyState](s, 1, "survey")
	GetOrInit[surveyState](s, 1, "feedback")
	s.SetPosition(1, "survey", Step("ask_name"))
	GetOrInit[surveyState](s, 2, "survey")

	s.ClearUser(1)

	_, err := Get[surveyState](s, 1, "survey")
	assert.Error(t, err)
	_, err = Get[surveyState](s, 1, "feedback")
	assert.Error(t, err)
	assert.False(t, s.InProgress(1))

	_, err = Get[surveyState](s, 2, "survey")
	assert.NoError(t, err, "other users are untouched")
}

func TestPositionLifecycle(t *testing.T) {
	s := NewStore()
	assert.False(t, s.InProgress(1))

	s.SetPosition(1, "survey", Step("ask_name"))
	assert.True(t, s.InProgress(1))

	pos, ok := s.Position(1)
	require.True(t, ok)
	assert.Equal(t, "survey", pos.Tag)
	assert.Equal(t, Step("ask_name"), pos.Step)

	s.ClearPosition(1)
	assert.False(t, s.InProgress(1))
	s.ClearPosition(1) // idempotent
}
