package chat

import "errors"

var (
	ErrMemberNotFound = errors.New("chat: member not found")
	ErrRoomNotFound   = errors.New("chat: room not found")

	// ErrSetupNotFound means the room has no live setup in the session store,
	// either because the setup protocol never ran or because the inactivity
	// window elapsed. Turns are never allowed to recreate a setup implicitly.
	ErrSetupNotFound = errors.New("chat: room setup not found")

	// ErrMalformedReply means the model's output did not match the expected
	// conversation envelope.
	ErrMalformedReply = errors.New("chat: malformed model reply")

	ErrInvalidCategory = errors.New("chat: invalid category")
)

// parseFailureNotice is the fixed diagnostic broadcast when the model returns
// a duplicated or ambiguous conversation payload.
const parseFailureNotice = "The conversation could not be continued because the partner returned a duplicated or ambiguous reply. Please send your message again."
