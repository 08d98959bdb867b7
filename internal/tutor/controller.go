package tutor

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"konetutor/internal/config"
	"konetutor/internal/gemini"
)

// Controller owns all tutoring state: the staged file list, the uploaded
// document references, the live session and its history mirror, and the
// current settings. Every method must be called from a single control
// goroutine; background coordinators communicate back exclusively through
// the Results channel, drained into HandleResult by the driver.
type Controller struct {
	settings     config.Settings
	settingsPath string

	notifier Notifier
	logger   *zap.Logger
	clk      Clock
	poll     PollPolicy

	newBackend func(apiKey string) Backend
	backend    Backend

	// localFiles maps basename to absolute path; uploaded holds the subset
	// that reached ACTIVE. uploaded's keys are always a subset of
	// localFiles' keys. activationOrder records uploaded basenames in the
	// order they reached ACTIVE; auto-selection picks its head.
	localFiles      map[string]string
	uploaded        map[string]gemini.File
	activationOrder []string

	session   Session
	activeDoc string
	history   []Message
	phase     Phase

	busy         bool
	results      chan Result
	cancelWorker context.CancelFunc
	workerDone   chan struct{}
}

// ControllerOptions configures a Controller. Zero-value fields get
// production defaults.
type ControllerOptions struct {
	Settings     config.Settings
	SettingsPath string
	Notifier     Notifier
	Logger       *zap.Logger
	Clock        Clock
	Poll         PollPolicy

	// NewBackend builds the remote collaborators for an API key. Tests
	// substitute a fake here.
	NewBackend func(apiKey string) Backend
}

// NewController builds a Controller and, when the settings carry an API
// key and model, configures the backend immediately.
func NewController(opts ControllerOptions) *Controller {
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Poll == (PollPolicy{}) {
		opts.Poll = DefaultPollPolicy()
	}
	if opts.NewBackend == nil {
		opts.NewBackend = func(apiKey string) Backend {
			return GeminiBackend{gemini.NewClient(apiKey)}
		}
	}

	c := &Controller{
		settings:     opts.Settings,
		settingsPath: opts.SettingsPath,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
		clk:          opts.Clock,
		poll:         opts.Poll,
		newBackend:   opts.NewBackend,
		localFiles:   make(map[string]string),
		uploaded:     make(map[string]gemini.File),
		phase:        PhaseNotConfigured,
		results:      make(chan Result, 16),
	}
	for base, path := range opts.Settings.LocalFiles {
		c.localFiles[base] = path
	}
	c.configure()
	return c
}

// configure rebuilds the backend from the current settings. Any live
// session is bound to the old backend and is discarded.
func (c *Controller) configure() {
	c.dropSession()
	if c.settings.APIKey == "" || c.settings.Model == "" {
		c.backend = nil
		c.phase = PhaseNotConfigured
		c.logger.Warn("ai not configured", zap.Bool("have_key", c.settings.APIKey != ""))
		c.notifier.StatusChanged("AI not configured: set an API key and model in settings.", true, false)
		return
	}
	c.backend = c.newBackend(c.settings.APIKey)
	if len(c.uploaded) > 0 {
		c.phase = PhaseAwaitingSelection
	} else {
		c.phase = PhaseConfigured
	}
	c.logger.Info("ai configured", zap.String("model", c.settings.Model))
}

// dropSession invalidates the live session and its history mirror. The
// caller is responsible for any backend cleanup that must happen after.
func (c *Controller) dropSession() {
	c.session = nil
	c.activeDoc = ""
	c.history = nil
}

// Results is the channel of coordinator completions. The driver must feed
// every received value to HandleResult.
func (c *Controller) Results() <-chan Result { return c.results }

// Phase reports the current chat-readiness state.
func (c *Controller) Phase() Phase { return c.phase }

// Busy reports whether a coordinator is in flight.
func (c *Controller) Busy() bool { return c.busy }

// Settings returns a copy of the current settings.
func (c *Controller) Settings() config.Settings { return c.settings }

// ActiveDocument returns the basename of the session's document, or "".
func (c *Controller) ActiveDocument() string { return c.activeDoc }

// History returns the conversation mirror for the live session.
func (c *Controller) History() []Message {
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

// StagedDocuments lists all staged basenames, sorted.
func (c *Controller) StagedDocuments() []string {
	return sortedKeys(c.localFiles)
}

// UploadedDocuments lists the basenames with an ACTIVE remote reference,
// sorted.
func (c *Controller) UploadedDocuments() []string {
	out := make([]string, 0, len(c.uploaded))
	for base := range c.uploaded {
		out = append(out, base)
	}
	sort.Strings(out)
	return out
}

// IsUploaded reports whether the basename has an ACTIVE reference.
func (c *Controller) IsUploaded(basename string) bool {
	_, ok := c.uploaded[basename]
	return ok
}

// AddFiles stages local paths for upload, keyed by basename. Any path whose
// basename is already staged is skipped and reported, never re-counted.
func (c *Controller) AddFiles(paths []string) error {
	if c.busy {
		return ErrBusy
	}
	added := 0
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		base := filepath.Base(p)
		if prev, ok := c.localFiles[base]; ok {
			if prev != p {
				c.notifier.StatusChanged(fmt.Sprintf("Skipped %s: a different file with that name is already staged", base), true, false)
			} else {
				c.notifier.StatusChanged(fmt.Sprintf("Skipped %s: already staged", base), true, false)
			}
			continue
		}
		c.localFiles[base] = p
		added++
	}
	if added > 0 {
		c.persistFileList()
		c.notifyDocuments()
		c.notifier.StatusChanged(fmt.Sprintf("Staged %d file(s). Run upload to make them available.", added), false, false)
	}
	return nil
}

// RemoveFiles unstages basenames. An uploaded document loses its remote
// reference; if it backs the live session, the session is invalidated
// before the backend delete is issued.
func (c *Controller) RemoveFiles(basenames []string) error {
	if c.busy {
		return ErrBusy
	}
	var toDelete []gemini.File
	removed := 0
	for _, base := range basenames {
		if _, ok := c.localFiles[base]; !ok {
			continue
		}
		if base == c.activeDoc {
			c.dropSession()
			c.notifier.StatusChanged("Active document removed; chat session ended.", false, false)
		}
		if f, ok := c.uploaded[base]; ok {
			toDelete = append(toDelete, f)
			delete(c.uploaded, base)
			c.dropActivation(base)
		}
		delete(c.localFiles, base)
		removed++
	}
	if removed == 0 {
		return nil
	}
	c.persistFileList()
	if c.phase != PhaseNotConfigured {
		if len(c.uploaded) > 0 && c.session == nil {
			c.phase = PhaseAwaitingSelection
		} else if c.session == nil {
			c.phase = PhaseConfigured
		}
	}
	c.notifyDocuments()
	c.notifier.StatusChanged(fmt.Sprintf("Removed %d file(s).", removed), false, false)
	if c.backend != nil && len(toDelete) > 0 {
		store, log := c.backend, c.logger
		go func() {
			for _, f := range toDelete {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				if err := store.DeleteFile(ctx, f.Name); err != nil {
					// Orphaned references are non-fatal; the local state
					// change is never rolled back.
					log.Warn("remote delete failed", zap.String("file", f.Name), zap.Error(err))
				}
				cancel()
			}
		}()
	}
	return nil
}

// ClearFiles unstages everything.
func (c *Controller) ClearFiles() error {
	return c.RemoveFiles(sortedKeys(c.localFiles))
}

// StartUpload launches the Upload Coordinator over the staged files that
// have no ACTIVE reference yet. Already-uploaded documents are skipped.
func (c *Controller) StartUpload() error {
	if c.busy {
		return ErrBusy
	}
	if c.backend == nil {
		return ErrNotConfigured
	}
	var pending []FileEntry
	for base, path := range c.localFiles {
		if _, ok := c.uploaded[base]; ok {
			continue
		}
		pending = append(pending, FileEntry{Basename: base, Path: path})
	}
	if len(pending) == 0 {
		if len(c.localFiles) == 0 {
			c.notifier.StatusChanged("No files staged. Add course documents first.", false, false)
		} else {
			c.notifier.StatusChanged("Nothing to upload: all staged files are already available.", false, false)
		}
		return nil
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Basename < pending[j].Basename })

	c.logger.Info("upload batch starting", zap.Int("files", len(pending)))
	c.notifier.StatusChanged(fmt.Sprintf("Uploading %d file(s)...", len(pending)), false, true)
	store, clk, poll, results := c.backend, c.clk, c.poll, c.results
	c.spawn(func(ctx context.Context) {
		out := runUpload(ctx, store, clk, poll, pending, func(msg string) {
			select {
			case results <- UploadProgress{Message: msg}:
			case <-ctx.Done():
			}
		})
		if out.canceled {
			return
		}
		select {
		case results <- UploadFinished{Added: out.added, Failed: out.failed, Err: out.firstErr}:
		case <-ctx.Done():
		}
	})
	return nil
}

// SelectDocument starts a chat session on an uploaded document and fires
// the synthesized opening turn. Selecting the already-active document is a
// no-op.
func (c *Controller) SelectDocument(basename string) error {
	if c.busy {
		return ErrBusy
	}
	if c.backend == nil {
		return ErrNotConfigured
	}
	doc, ok := c.uploaded[basename]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDocument, basename)
	}
	if basename == c.activeDoc && c.session != nil {
		return nil
	}

	system := SystemPrompt(c.settings.Language, basename)
	c.session = c.backend.NewSession(doc, gemini.ChatOptions{
		Model:        c.settings.Model,
		Temperature:  c.settings.Temperature,
		SystemPrompt: system,
	})
	c.activeDoc = basename
	c.history = []Message{{Role: RoleSystem, Text: fmt.Sprintf("Chat started for document: %s", basename)}}
	c.notifier.MessageAppended(RoleSystem, c.history[0].Text)
	c.phase = PhaseSessionStarting
	c.logger.Info("session starting",
		zap.String("document", basename), zap.String("session_id", c.session.ID()))
	c.notifier.StatusChanged(fmt.Sprintf("Starting chat for %s...", basename), false, true)

	c.startTurn(OpeningInstruction(basename), true)
	return nil
}

// SendUserMessage appends the user's message and launches a turn. The
// mirror is append-only for the session's lifetime: the message stays even
// if the turn fails, with the failure reported as a system line.
func (c *Controller) SendUserMessage(text string) error {
	if c.busy {
		return ErrBusy
	}
	if c.session == nil {
		return ErrNoSession
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	c.history = append(c.history, Message{Role: RoleUser, Text: text})
	c.notifier.MessageAppended(RoleUser, text)
	c.notifier.StatusChanged("Waiting for tutor...", false, true)
	c.startTurn(text, false)
	return nil
}

func (c *Controller) startTurn(text string, opening bool) {
	sess, results := c.session, c.results
	c.phase = PhaseTurnPending
	if opening {
		c.phase = PhaseSessionStarting
	}
	c.spawn(func(ctx context.Context) {
		reply, err := runTurn(ctx, sess, text)
		if ctx.Err() != nil {
			return
		}
		select {
		case results <- TurnFinished{Reply: reply, Err: err, Opening: opening}:
		case <-ctx.Done():
		}
	})
}

// ApplySettings saves and adopts new settings. A persistence failure keeps
// the new values in memory and is reported. A key or model change rebuilds
// the backend and ends any live session; uploaded references survive.
func (c *Controller) ApplySettings(s config.Settings) error {
	if c.busy {
		return ErrBusy
	}
	s.LocalFiles = copyStringMap(c.localFiles)

	reconfigure := s.APIKey != c.settings.APIKey || s.Model != c.settings.Model
	c.settings = s
	if c.settingsPath == "" {
		c.notifier.StatusChanged("Settings applied.", false, false)
	} else if err := s.Save(c.settingsPath); err != nil {
		c.logger.Warn("settings save failed", zap.Error(err))
		c.notifier.StatusChanged(fmt.Sprintf("Settings applied but not saved: %v", err), true, false)
	} else {
		c.notifier.StatusChanged("Settings saved.", false, false)
	}
	if reconfigure {
		c.configure()
		c.notifyDocuments()
	}
	return nil
}

// HandleResult folds one coordinator completion into the state. It is the
// only mutation path for asynchronous outcomes.
func (c *Controller) HandleResult(r Result) {
	switch res := r.(type) {
	case UploadProgress:
		c.notifier.StatusChanged(res.Message, false, true)

	case UploadFinished:
		c.finishWorker()
		for _, f := range res.Added {
			// A file removed from staging mid-flight must not reappear.
			if _, ok := c.localFiles[f.DisplayName]; !ok {
				if c.backend != nil {
					deleteQuietly(c.backend, f.Name)
				}
				continue
			}
			if _, ok := c.uploaded[f.DisplayName]; !ok {
				c.activationOrder = append(c.activationOrder, f.DisplayName)
			}
			c.uploaded[f.DisplayName] = f
		}
		c.notifyDocuments()
		switch {
		case res.Failed > 0 && len(res.Added) > 0:
			c.notifier.StatusChanged(fmt.Sprintf("Upload finished: %d ready, %d failed (%v).", len(res.Added), res.Failed, res.Err), true, false)
		case res.Failed > 0:
			c.notifier.StatusChanged(fmt.Sprintf("Upload failed: %v", res.Err), true, false)
		default:
			c.notifier.StatusChanged(fmt.Sprintf("Upload finished: %d file(s) ready.", len(res.Added)), false, false)
		}
		c.logger.Info("upload batch finished",
			zap.Int("added", len(res.Added)), zap.Int("failed", res.Failed))
		if c.session == nil && len(c.uploaded) > 0 {
			c.phase = PhaseAwaitingSelection
			// No document is selected; drop straight into a chat on the
			// earliest-activated one, whichever batch it came from.
			if len(c.activationOrder) > 0 {
				first := c.activationOrder[0]
				if err := c.SelectDocument(first); err != nil {
					c.logger.Warn("auto-select failed", zap.String("document", first), zap.Error(err))
				}
			}
		}

	case TurnFinished:
		c.finishWorker()
		if res.Err != nil {
			c.logger.Warn("turn failed", zap.Bool("opening", res.Opening), zap.Error(res.Err))
			if res.Opening {
				// The session never produced a reply; tear it down.
				c.dropSession()
				c.phase = PhaseAwaitingSelection
				c.notifier.StatusChanged(fmt.Sprintf("Could not start chat: %v", res.Err), true, false)
				return
			}
			// The session survives and the user's message stays in the
			// mirror; the failure shows up as a system line so the
			// transcript explains the missing reply.
			note := fmt.Sprintf("Tutor error: %v", res.Err)
			c.history = append(c.history, Message{Role: RoleSystem, Text: note})
			c.notifier.MessageAppended(RoleSystem, note)
			c.phase = PhaseActiveChat
			c.notifier.StatusChanged(note, true, false)
			return
		}
		c.history = append(c.history, Message{Role: RoleModel, Text: res.Reply})
		c.notifier.MessageAppended(RoleModel, res.Reply)
		c.phase = PhaseActiveChat
		c.notifier.StatusChanged("Ready.", false, false)
	}
}

// Shutdown cancels any in-flight coordinator, waits for it to exit, and
// flushes the settings record.
func (c *Controller) Shutdown(ctx context.Context) error {
	if c.cancelWorker != nil {
		c.cancelWorker()
	}
	if c.workerDone != nil {
		select {
		case <-c.workerDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.persistFileList()
	return nil
}

func (c *Controller) spawn(run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.busy = true
	c.cancelWorker = cancel
	c.workerDone = done
	go func() {
		defer close(done)
		run(ctx)
	}()
}

func (c *Controller) finishWorker() {
	c.busy = false
	if c.cancelWorker != nil {
		c.cancelWorker()
		c.cancelWorker = nil
	}
	c.workerDone = nil
}

// persistFileList writes the staged file list through to disk so the
// library survives restarts. Failures are logged, not surfaced.
func (c *Controller) persistFileList() {
	c.settings.LocalFiles = copyStringMap(c.localFiles)
	if c.settingsPath == "" {
		return
	}
	if err := c.settings.Save(c.settingsPath); err != nil {
		c.logger.Warn("file list save failed", zap.Error(err))
	}
}

// dropActivation removes a basename from the activation order.
func (c *Controller) dropActivation(base string) {
	for i, b := range c.activationOrder {
		if b == base {
			c.activationOrder = append(c.activationOrder[:i], c.activationOrder[i+1:]...)
			return
		}
	}
}

func (c *Controller) notifyDocuments() {
	c.notifier.DocumentListChanged(c.StagedDocuments())
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
