// Package state keeps in-memory conversation state for multi-step dialogues.
// Entries live per (user, tag) and positions track where a user is inside a
// dialogue, so the router can hand free-form messages to the right step.
package state
