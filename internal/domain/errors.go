package domain

import "errors"

// Session-level failures. Link-scoped errors never escape the link that
// produced them; room-scoped ones are returned to the caller.
var (
	ErrMediaUnavailable       = errors.New("local media unavailable")
	ErrSignalingDisconnected  = errors.New("signaling disconnected")
	ErrPeerNegotiationFailed  = errors.New("peer negotiation failed")
	ErrDuplicateSignalIgnored = errors.New("duplicate signal ignored")
	ErrSuggestionService      = errors.New("suggestion service error")
	ErrTranscriptService      = errors.New("transcript service error")

	ErrUnknownPeer      = errors.New("unknown peer")
	ErrNotJoined        = errors.New("not joined to a room")
	ErrAlreadyJoined    = errors.New("already joined to a room")
	ErrLeft             = errors.New("room already left")
	ErrNotRecording     = errors.New("not recording")
	ErrAlreadyRecording = errors.New("already recording")
)
