package request

import (
	tele "gopkg.in/telebot.v4"
)

// Deps declares what a handler needs before its body runs. Resolution order
// is fixed: session, user, state, payload. Teardown runs in reverse, with
// the session released last.
type Deps struct {
	// Session opens a database transaction for the update. A user
	// dependency opens one as well, since identity lookups may hit the
	// database.
	Session bool

	User    *UserDep
	State   *StateDep
	Payload *PayloadDep
}

// UserDep resolves the sending user through the identity cache and the
// database.
type UserDep struct {
	// Required stops resolution when the sender is not registered: the
	// handler body never runs and RejectMessage (when set) is sent back.
	Required bool

	// RejectMessage is the user-facing text for unregistered senders.
	// Empty means reject silently.
	RejectMessage string
}

// StateDep binds the handler to dialogue state under Tag.
type StateDep struct {
	Tag string

	// New builds a fresh entry when none exists. When nil the entry must
	// already exist; a missing one fails resolution with
	// state_not_initialized.
	New func() any
}

// PayloadDep decodes the update's payload before the handler body runs.
// A decode failure fails resolution with invalid_payload and the body is
// skipped.
type PayloadDep struct {
	Decode func(c tele.Context) (any, error)
}
