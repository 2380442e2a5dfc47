// Package sessions persists conversation histories as one JSON file per
// session, written atomically so a crash never leaves a half-serialized
// history behind.
package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/bastion/internal/agent"
)

// ErrSessionNotFound reports a load of an unknown session ID.
var ErrSessionNotFound = errors.New("session not found")

const previewLen = 80

// Session is the durable record for one conversation.
type Session struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Turns     int             `json:"turns"`
	Preview   string          `json:"preview"`
	Messages  []agent.Message `json:"messages"`
}

// Store reads and writes sessions under one directory. One daemon per
// directory is assumed; there is no cross-process locking.
type Store struct {
	dir string
	log *slog.Logger
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Store{dir: dir, log: slog.Default().With("component", "sessions")}, nil
}

// NewID returns a fresh 12-hex-char session ID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save serializes the history under id, preserving the original created_at
// when the session already exists. Write goes to a temp file in the same
// directory, then renames over the target.
func (s *Store) Save(id string, messages []agent.Message) error {
	now := time.Now().UTC()
	session := Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  messages,
	}
	if existing, err := s.Load(id); err == nil {
		session.CreatedAt = existing.CreatedAt
	}

	for _, m := range messages {
		if m.IsUserText() {
			session.Turns++
			if session.Preview == "" {
				session.Preview = makePreview(m.FirstText())
			}
		}
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize session %s: %w", id, err)
	}

	tmp := filepath.Join(s.dir, id+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session %s: %w", id, err)
	}
	if err := os.Rename(tmp, s.path(id)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit session %s: %w", id, err)
	}
	return nil
}

// Load reads one session. Missing files map to ErrSessionNotFound.
func (s *Store) Load(id string) (*Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &session, nil
}

// List returns up to limit sessions, newest activity first. Corrupt files
// are logged and skipped.
func (s *Store) List(limit int) ([]*Session, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var sessions []*Session
	for _, path := range paths {
		id := strings.TrimSuffix(filepath.Base(path), ".json")
		session, err := s.Load(id)
		if err != nil {
			s.log.Warn("skipping unreadable session", "path", path, "error", err)
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// Delete removes a session; deleting an absent session is not an error.
func (s *Store) Delete(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func makePreview(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= previewLen {
		return text
	}
	return text[:previewLen] + "..."
}
