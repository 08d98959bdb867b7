package tutor

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"konetutor/internal/gemini"
)

// FileEntry is one staged local document: the basename shown to the user
// and the absolute path read at upload time.
type FileEntry struct {
	Basename string
	Path     string
}

// uploadOutcome is the aggregate of one batch: the references that reached
// ACTIVE, the count that did not, the first error seen, and whether the
// batch was cut short by cancellation.
type uploadOutcome struct {
	added    []gemini.File
	failed   int
	firstErr error
	canceled bool
}

func (o *uploadOutcome) recordFailure(err error) {
	o.failed++
	if o.firstErr == nil {
		o.firstErr = err
	}
}

// runUpload pushes each staged file to the store and waits for it to
// activate. A file that fails or times out is deleted best-effort and the
// batch continues; only cancellation stops the loop early.
func runUpload(ctx context.Context, store FileStore, clk Clock, policy PollPolicy, entries []FileEntry, progress func(string)) uploadOutcome {
	var out uploadOutcome
	for i, e := range entries {
		if ctx.Err() != nil {
			out.canceled = true
			return out
		}
		progress(fmt.Sprintf("Uploading %s (%d/%d)...", e.Basename, i+1, len(entries)))

		mimeType := mime.TypeByExtension(filepath.Ext(e.Path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		f, err := store.UploadFile(ctx, e.Path, e.Basename, mimeType)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				out.canceled = true
				return out
			}
			out.recordFailure(fmt.Errorf("upload %s: %w", e.Basename, err))
			continue
		}

		progress(fmt.Sprintf("Processing %s...", e.Basename))
		active, err := waitForActivation(ctx, store, clk, policy, f)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				deleteQuietly(store, f.Name)
				out.canceled = true
				return out
			}
			// A reference that never activates is useless; clean it up.
			deleteQuietly(store, f.Name)
			out.recordFailure(err)
			continue
		}
		out.added = append(out.added, active)
	}
	return out
}

// waitForActivation polls the file's state on the backoff schedule until it
// reaches ACTIVE, reaches FAILED, times out, or the context is canceled.
// Transient poll errors are retried on the same schedule.
func waitForActivation(ctx context.Context, store FileStore, clk Clock, policy PollPolicy, f gemini.File) (gemini.File, error) {
	deadline := clk.Now().Add(policy.PerFileTimeout)
	interval := policy.Initial
	for {
		cur, err := store.GetFile(ctx, f.Name)
		switch {
		case err == nil && cur.State == gemini.FileStateActive:
			return cur, nil
		case err == nil && cur.State == gemini.FileStateFailed:
			return gemini.File{}, fmt.Errorf("processing %s: backend reported failure", f.DisplayName)
		case err != nil && !gemini.IsTransient(err):
			return gemini.File{}, fmt.Errorf("polling %s: %w", f.DisplayName, err)
		}
		// Still PROCESSING, or a transient poll error worth retrying.

		if clk.Now().After(deadline) {
			return gemini.File{}, fmt.Errorf("processing %s: timed out after %s", f.DisplayName, policy.PerFileTimeout)
		}
		if err := clk.Sleep(ctx, interval); err != nil {
			return gemini.File{}, err
		}
		if clk.Now().After(deadline) {
			return gemini.File{}, fmt.Errorf("processing %s: timed out after %s", f.DisplayName, policy.PerFileTimeout)
		}
		interval = policy.next(interval)
	}
}

// deleteQuietly removes a remote reference on a short independent context;
// cleanup failures are ignored.
func deleteQuietly(store FileStore, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = store.DeleteFile(ctx, name)
}
