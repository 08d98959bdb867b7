package tutor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"konetutor/internal/gemini"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock advances instantly on Sleep so backoff schedules run in
// microseconds while the observed timeline stays faithful.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) sleepLog() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// fileScript describes how the fake store treats one display name.
type fileScript struct {
	uploadErr       error
	processingPolls int  // GetFile calls answered PROCESSING before ACTIVE
	failed          bool // report FAILED once processingPolls are spent
	stuck           bool // never leaves PROCESSING
	transientErrs   int  // 503s returned before any state answer
}

type fakeStore struct {
	mu       sync.Mutex
	scripts  map[string]*fileScript
	uploads  []string
	deleted  []string
	onUpload func(ctx context.Context, displayName string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{scripts: make(map[string]*fileScript)}
}

func (s *fakeStore) script(displayName string, sc fileScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[displayName] = &sc
}

func (s *fakeStore) UploadFile(ctx context.Context, path, displayName, mimeType string) (gemini.File, error) {
	if s.onUpload != nil {
		s.onUpload(ctx, displayName)
	}
	if err := ctx.Err(); err != nil {
		return gemini.File{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, displayName)
	sc := s.scripts[displayName]
	if sc != nil && sc.uploadErr != nil {
		return gemini.File{}, sc.uploadErr
	}
	return gemini.File{
		Name:        "files/" + displayName,
		URI:         "https://example.invalid/files/" + displayName,
		DisplayName: displayName,
		MIMEType:    mimeType,
		State:       gemini.FileStateProcessing,
	}, nil
}

func (s *fakeStore) GetFile(ctx context.Context, name string) (gemini.File, error) {
	if err := ctx.Err(); err != nil {
		return gemini.File{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	display := strings.TrimPrefix(name, "files/")
	f := gemini.File{
		Name:        name,
		URI:         "https://example.invalid/" + name,
		DisplayName: display,
	}
	sc := s.scripts[display]
	if sc == nil {
		f.State = gemini.FileStateActive
		return f, nil
	}
	if sc.transientErrs > 0 {
		sc.transientErrs--
		return gemini.File{}, &gemini.APIError{StatusCode: 503, Status: "UNAVAILABLE", Message: "try again"}
	}
	switch {
	case sc.stuck:
		f.State = gemini.FileStateProcessing
	case sc.processingPolls > 0:
		sc.processingPolls--
		f.State = gemini.FileStateProcessing
	case sc.failed:
		f.State = gemini.FileStateFailed
	default:
		f.State = gemini.FileStateActive
	}
	return f, nil
}

func (s *fakeStore) DeleteFile(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, name)
	return nil
}

func (s *fakeStore) deletedNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.deleted))
	copy(out, s.deleted)
	return out
}

// fakeSession pops scripted outcomes in order. A non-nil block channel
// makes Send wait until it is closed.
type fakeSession struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	sent    []string
	block   chan struct{}
}

func (s *fakeSession) ID() string { return "sess-fake" }

func (s *fakeSession) Send(ctx context.Context, text string) (string, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	if len(s.errs) > 0 && s.errs[0] != nil {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return "", err
	}
	if len(s.errs) > 0 {
		s.errs = s.errs[1:]
	}
	if len(s.replies) == 0 {
		return "", fmt.Errorf("fake session: no scripted reply for %q", text)
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func (s *fakeSession) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

type fakeBackend struct {
	*fakeStore
	session  *fakeSession
	lastDoc  gemini.File
	lastOpts gemini.ChatOptions
	sessions int
}

func (b *fakeBackend) NewSession(doc gemini.File, opts gemini.ChatOptions) Session {
	b.lastDoc = doc
	b.lastOpts = opts
	b.sessions++
	return b.session
}

type statusEvent struct {
	message string
	isError bool
	isBusy  bool
}

type recordingNotifier struct {
	statuses []statusEvent
	lists    [][]string
	messages []Message
}

func (r *recordingNotifier) StatusChanged(message string, isError, isBusy bool) {
	r.statuses = append(r.statuses, statusEvent{message, isError, isBusy})
}

func (r *recordingNotifier) DocumentListChanged(basenames []string) {
	r.lists = append(r.lists, basenames)
}

func (r *recordingNotifier) MessageAppended(role Role, text string) {
	r.messages = append(r.messages, Message{Role: role, Text: text})
}

func (r *recordingNotifier) lastStatus() statusEvent {
	if len(r.statuses) == 0 {
		return statusEvent{}
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *recordingNotifier) hasErrorStatus() bool {
	for _, s := range r.statuses {
		if s.isError {
			return true
		}
	}
	return false
}

// recv pulls one coordinator result or fails the test.
func recv(t *testing.T, c *Controller) Result {
	t.Helper()
	select {
	case r := <-c.Results():
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for coordinator result")
		return nil
	}
}

// drain feeds results into HandleResult until no coordinator is running.
func drain(t *testing.T, c *Controller) {
	t.Helper()
	for c.Busy() {
		c.HandleResult(recv(t, c))
	}
}
