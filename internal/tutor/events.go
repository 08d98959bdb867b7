package tutor

import "konetutor/internal/gemini"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// Message is one entry in the client-side conversation history mirror.
type Message struct {
	Role Role
	Text string
}

// Phase is the chat-readiness state of the Controller.
type Phase int

const (
	PhaseNotConfigured Phase = iota
	PhaseConfigured
	PhaseAwaitingSelection
	PhaseSessionStarting
	PhaseActiveChat
	PhaseTurnPending
)

func (p Phase) String() string {
	switch p {
	case PhaseNotConfigured:
		return "not configured"
	case PhaseConfigured:
		return "configured"
	case PhaseAwaitingSelection:
		return "awaiting document selection"
	case PhaseSessionStarting:
		return "starting session"
	case PhaseActiveChat:
		return "active chat"
	case PhaseTurnPending:
		return "turn pending"
	default:
		return "unknown"
	}
}

// Result is a worker-to-controller completion notification. Workers never
// touch Controller state; the driver reads Results() and hands each value
// to HandleResult on the control goroutine.
type Result interface{ isResult() }

// UploadProgress is a non-terminal per-file status note from the Upload
// Coordinator.
type UploadProgress struct {
	Message string
}

// UploadFinished is the Upload Coordinator's terminal result: the
// activated references (possibly a strict subset of the batch), the number
// of failed files, and the first failure for reporting.
type UploadFinished struct {
	Added  []gemini.File
	Failed int
	Err    error
}

// TurnFinished is the Chat Turn Coordinator's one-shot result. Opening
// marks the synthesized introductory turn that opens a session.
type TurnFinished struct {
	Reply   string
	Err     error
	Opening bool
}

func (UploadProgress) isResult() {}
func (UploadFinished) isResult() {}
func (TurnFinished) isResult()   {}

// Notifier is the presentation boundary. Implementations are invoked on
// the control goroutine and must not call back into the Controller.
type Notifier interface {
	StatusChanged(message string, isError, isBusy bool)
	DocumentListChanged(basenames []string)
	MessageAppended(role Role, text string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) StatusChanged(string, bool, bool) {}
func (NopNotifier) DocumentListChanged([]string)     {}
func (NopNotifier) MessageAppended(Role, string)     {}
