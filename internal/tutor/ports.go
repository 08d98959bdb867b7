package tutor

import (
	"context"

	"konetutor/internal/gemini"
)

// FileStore is the remote document store: upload a local file, poll its
// processing state, delete it. Implemented by *gemini.Client.
type FileStore interface {
	UploadFile(ctx context.Context, path, displayName, mimeType string) (gemini.File, error)
	GetFile(ctx context.Context, name string) (gemini.File, error)
	DeleteFile(ctx context.Context, name string) error
}

// Session is one conversational context bound to a document. A Send is one
// turn; turns are serialized by the Controller. ID identifies the session
// in logs.
type Session interface {
	Send(ctx context.Context, text string) (string, error)
	ID() string
}

// Backend bundles the remote collaborators behind one configuration
// (API key). Rebuilt whenever credentials or model change.
type Backend interface {
	FileStore
	NewSession(doc gemini.File, opts gemini.ChatOptions) Session
}

// GeminiBackend adapts *gemini.Client to the Backend interface.
type GeminiBackend struct {
	*gemini.Client
}

// NewSession starts a chat session on the underlying client.
func (b GeminiBackend) NewSession(doc gemini.File, opts gemini.ChatOptions) Session {
	return b.Client.NewChat(doc, opts)
}
