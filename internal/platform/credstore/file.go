package credstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/session"
)

// FileStore keeps the credential as a JSON file readable only by the owner.
type FileStore struct {
	path   string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewFileStore creates the parent directory if needed.
func NewFileStore(path string, logger zerolog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("credstore: file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	return &FileStore{path: path, logger: logger}, nil
}

func (s *FileStore) Load(_ context.Context) (*session.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) read() (*session.Credential, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	return decode(b)
}

// Save writes to a temp file and renames it over the target so readers in
// other processes never see a partial file.
func (s *FileStore) Save(_ context.Context, cred session.Credential) error {
	b, err := encode(cred)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credential-*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod credential file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credential file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}

// Watch follows the credential file through fsnotify. The directory is
// watched rather than the file because Save replaces it by rename.
func (s *FileStore) Watch(ctx context.Context) (<-chan Change, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch credential dir: %w", err)
	}

	last, err := s.Load(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("credential file unreadable at watch start")
	}

	out := make(chan Change, 1)
	go func() {
		defer close(out)
		defer w.Close()

		name := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name {
					continue
				}
				cur, err := s.Load(ctx)
				if err != nil {
					s.logger.Warn().Err(err).Str("path", s.path).Msg("credential file unreadable after change")
					continue
				}
				if sameCredential(last, cur) {
					continue
				}
				last = cur
				select {
				case out <- Change{Credential: cur}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn().Err(err).Str("path", s.path).Msg("credential file watcher error")
			}
		}
	}()
	return out, nil
}

func (s *FileStore) Close() error { return nil }
