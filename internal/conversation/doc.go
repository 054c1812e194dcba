// Package conversation implements the chat session lifecycle for persona-chat.
//
// # Overview
//
// The package owns two layers. The Conversation state machine holds the
// ordered turn list for one persona and enforces the streaming rules; the
// Controller ties a Conversation to a transport session and the store,
// replacing the pair wholesale on persona switch or reset.
//
// # Turn lifecycle
//
// Sending a user turn appends two turns at once: the user's message and an
// empty model placeholder. The placeholder walks through
//
//	pending -> streaming -> complete | failed
//
// Fragments only ever concatenate; a failed turn's text is replaced with a
// fixed apology rather than shown truncated. Terminal turns are immutable.
// Only one turn may be pending or streaming at a time, so the placeholder
// always directly follows its user turn and ordering never changes.
//
// # Persistence
//
// The Controller saves the full snapshot whenever a mutation leaves no turn
// in flight, and the store filters blank-text turns unconditionally, so an
// interrupted stream can never leak an empty turn to disk. Store reads that
// fail degrade to an empty conversation with a logged warning; store writes
// are best effort and never roll back in-memory state.
//
// # Abandonment
//
// There is no explicit stream cancellation. Replacing the session (switch
// or reset) bumps a generation counter; events still arriving from the old
// stream are drained and ignored.
package conversation
