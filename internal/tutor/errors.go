package tutor

import "errors"

// Validation errors rejected synchronously, with no state change.
var (
	// ErrBusy is returned when a command arrives while a coordinator is in
	// flight. Commands are rejected, not queued.
	ErrBusy = errors.New("a background task is already running")

	// ErrNotConfigured is returned when credentials or model are missing.
	ErrNotConfigured = errors.New("AI not configured: set an API key and model")

	// ErrNoSession is returned for a user turn without a live session.
	ErrNoSession = errors.New("no active chat: select an uploaded document first")

	// ErrEmptyMessage is returned for a blank user message.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrUnknownDocument is returned when selecting a basename that has not
	// been uploaded and activated.
	ErrUnknownDocument = errors.New("document has not been uploaded")
)
