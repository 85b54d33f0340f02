package state

// Step identifies a position inside a dialogue. Step handlers return the
// next step; returning End finishes the dialogue and releases its state.
type Step string

// End is the terminal step. It is the zero value so a handler that returns
// an error naturally ends its dialogue.
const End Step = ""

// Position is a user's current place inside a dialogue.
type Position struct {
	Tag  string
	Step Step
}
