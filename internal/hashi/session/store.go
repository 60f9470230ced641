package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdobrica/hashi/common/crypto"
)

// Store holds all Session records and serializes every mutation to disk.
// Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	path     string
	sessions map[string]Session
	live     map[string]string // sender → plaintext credential, memory only
}

// NewStore returns a Store backed by the JSON file at path. Call Load before
// first use.
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		sessions: make(map[string]Session),
		live:     make(map[string]string),
	}
}

// Load reads the session file. A missing file is a normal first run and
// yields an empty store; any other read or decode failure is an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("no session file, starting fresh", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session file %s: %w", s.path, err)
	}

	sessions := make(map[string]Session)
	if err := json.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("decode session file %s: %w", s.path, err)
	}

	// Records with a half-bound state cannot occur through Bind; drop any
	// found in a hand-edited file rather than carrying the inconsistency.
	for sender, sess := range sessions {
		if sess.AI == "" || sess.Key == "" {
			slog.Warn("dropping incomplete session record", "sender", sender)
			delete(sessions, sender)
		}
	}

	s.sessions = sessions
	slog.Info("sessions loaded", "count", len(sessions), "path", s.path)
	return nil
}

// Lookup returns the sender's Session and whether one exists. It never
// creates a record on miss; unbound is the caller's default.
func (s *Store) Lookup(sender string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sender]
	return sess, ok
}

// Credential returns the live plaintext credential for a bound sender, when
// this process performed the bind. Empty after a restart.
func (s *Store) Credential(sender string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.live[sender]
	return cred, ok
}

// Bind records a validated (provider, credential) pair for the sender,
// persists the full session map, and caches the live credential. On a
// persistence failure nothing is recorded and the previous file state is
// left intact.
func (s *Store) Bind(sender, providerName, credential string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := Session{AI: providerName, Key: crypto.Digest(credential)}

	prev, hadPrev := s.sessions[sender]
	s.sessions[sender] = sess
	if err := s.saveLocked(); err != nil {
		if hadPrev {
			s.sessions[sender] = prev
		} else {
			delete(s.sessions, sender)
		}
		return Session{}, err
	}

	s.live[sender] = credential
	return sess, nil
}

// Count returns the number of bound senders.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// saveLocked writes the full session map through a temp file + rename so a
// crash mid-write can never destroy the previous state. Caller holds s.mu.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
