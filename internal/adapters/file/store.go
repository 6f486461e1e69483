package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/dwsm/pkg/domain"
	"github.com/aretw0/dwsm/pkg/ports"
)

var (
	_ ports.RemoteStore   = (*Store)(nil)
	_ ports.SessionLister = (*Store)(nil)
)

// Store implements ports.RemoteStore on a directory, typically a volume shared by
// all front-end processes. Each session is one JSON file.
type Store struct {
	BasePath string
}

// New creates a new Store with the given base path.
// If basePath is empty, it defaults to ".dwsm/sessions".
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".dwsm", "sessions")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return "", domain.ErrInvalidSessionID
	}
	return filepath.Join(s.BasePath, sessionID+".json"), nil
}

// Start ensures the directory exists.
func (s *Store) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}
	return nil
}

// Stop is a no-op.
func (s *Store) Stop(ctx context.Context) error { return nil }

// SaveSession persists the snapshot to a JSON file atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *Store) SaveSession(ctx context.Context, meta domain.MetaData) error {
	destPath, err := s.path(meta.ID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Same directory, so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+meta.ID+"-*.part")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath) // Gone already if the rename succeeded
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Cannot rename an open file on Windows
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file to session file: %w", err)
	}
	return nil
}

func (s *Store) read(sessionID string) (*domain.MetaData, error) {
	filePath, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var meta domain.MetaData
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &meta, nil
}

// IsStored reports whether the session file exists.
func (s *Store) IsStored(ctx context.Context, sessionID string) (bool, error) {
	meta, err := s.read(sessionID)
	return meta != nil, err
}

// GetSessionMetaData reads the session file. A missing file yields nil, nil.
func (s *Store) GetSessionMetaData(ctx context.Context, sessionID string) (*domain.MetaData, error) {
	return s.read(sessionID)
}

// GetSessionMetaDataField reads the session file and returns one field.
func (s *Store) GetSessionMetaDataField(ctx context.Context, sessionID, field string) (string, bool, error) {
	meta, err := s.read(sessionID)
	if err != nil || meta == nil {
		return "", false, err
	}
	v, ok := meta.Field(field)
	return v, ok, nil
}

// RemoveSession removes the session file.
func (s *Store) RemoveSession(ctx context.Context, sessionID string) error {
	filePath, err := s.path(sessionID)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// ListSessions returns all stored session IDs.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(entry.Name(), ".json"))
	}
	return sessions, nil
}
