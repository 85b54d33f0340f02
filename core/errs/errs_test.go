package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := Storage("users.find", errors.New("connection reset"))
	wrapped := fmt.Errorf("handler: %w", err)

	assert.Equal(t, KindStorage, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindStorage))
	assert.False(t, IsKind(wrapped, KindUnauthorized))
}

func TestUnclassifiedErrorHasNoKind(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestCodeIsUppercaseKind(t *testing.T) {
	assert.Equal(t, "USER_NOT_REGISTERED", UserNotRegistered(5).Code())
	assert.Equal(t, "STORAGE", Storage("begin", errors.New("x")).Code())
	assert.Equal(t, "INVALID_PAYLOAD", InvalidPayload(nil).Code())
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("deadlock detected")
	err := Storage("commit", cause)
	assert.Contains(t, err.Error(), "commit")
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.ErrorIs(t, err, cause)
}

func TestUnauthorizedDefaultMessage(t *testing.T) {
	assert.Equal(t, "unauthorized", Unauthorized("").Error())
	assert.Equal(t, "admin command", Unauthorized("admin command").Error())
}
