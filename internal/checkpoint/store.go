// Package checkpoint persists per-execution progress state so long-running
// mapping jobs can resume after partial failure instead of restarting.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/ohler55/ojg/oj"
)

// State is the free-form checkpoint blob. Fields not known to this package
// survive a save/load round trip unchanged.
type State map[string]any

// TimestampKey is the server-assigned field added to every saved state.
const TimestampKey = "timestamp"

// Store persists checkpoint state keyed by execution id.
//
// Load of an unknown execution id returns (nil, nil): a missing checkpoint
// is the normal first-run case, not an error.
type Store interface {
	Save(ctx context.Context, executionID string, state State) error
	Load(ctx context.Context, executionID string) (State, error)
	Delete(ctx context.Context, executionID string) error
}

// FileStore keeps one JSON file per execution id on a billy filesystem.
// Writes go to a temporary name first and are renamed into place, so a
// concurrent reader never observes a half-written checkpoint.
type FileStore struct {
	fs billy.Filesystem
}

// NewFileStore creates a store rooted at the given filesystem.
func NewFileStore(fs billy.Filesystem) *FileStore {
	return &FileStore{fs: fs}
}

func (s *FileStore) path(executionID string) string {
	// Execution ids derive from caller-supplied names; keep them out of
	// subdirectories.
	safe := strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(executionID)
	return safe + ".json"
}

// Save writes the state blob for an execution id, stamping it with the
// current time. The caller's map is not modified.
func (s *FileStore) Save(ctx context.Context, executionID string, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stamped := make(State, len(state)+1)
	for k, v := range state {
		stamped[k] = v
	}
	stamped[TimestampKey] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := oj.Marshal(map[string]any(stamped))
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", executionID, err)
	}

	final := s.path(executionID)
	tmp := final + ".tmp"
	f, err := s.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create checkpoint %s: %w", executionID, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("write checkpoint %s: %w", executionID, err)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("close checkpoint %s: %w", executionID, err)
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("commit checkpoint %s: %w", executionID, err)
	}
	return nil
}

// Load reads the state blob for an execution id, or (nil, nil) when no
// checkpoint exists.
func (s *FileStore) Load(ctx context.Context, executionID string) (State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(s.path(executionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open checkpoint %s: %w", executionID, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", executionID, err)
	}
	parsed, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", executionID, err)
	}
	blob, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode checkpoint %s: not a JSON object", executionID)
	}
	return State(blob), nil
}

// Delete removes the checkpoint for an execution id. Deleting a checkpoint
// that does not exist is not an error.
func (s *FileStore) Delete(ctx context.Context, executionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Remove(s.path(executionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete checkpoint %s: %w", executionID, err)
	}
	return nil
}

// Exists reports whether a checkpoint is currently stored for the id.
func (s *FileStore) Exists(executionID string) bool {
	_, err := s.fs.Stat(s.path(executionID))
	return err == nil
}

// Disabled is a Store whose operations are all successful no-ops. It backs
// the "checkpointing disabled" mode: Load always reports no checkpoint.
type Disabled struct{}

func (Disabled) Save(context.Context, string, State) error { return nil }

func (Disabled) Load(context.Context, string) (State, error) { return nil, nil }

func (Disabled) Delete(context.Context, string) error { return nil }
