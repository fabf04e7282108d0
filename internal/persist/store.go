// Package persist keeps per-remote client state on disk between runs.
package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"pkt.systems/hermterm/schema"
	"pkt.systems/pslog"
)

// ClientState captures what the client remembers about one remote.
type ClientState struct {
	Ship     string               `json:"ship"`
	Selected schema.SessionName   `json:"selected"`
	Sessions []schema.SessionName `json:"sessions,omitempty"`
	SavedAt  time.Time            `json:"saved_at,omitempty"`
}

// Known reports whether name was remembered as an open session.
func (s ClientState) Known(name schema.SessionName) bool {
	for _, known := range s.Sessions {
		if known == name {
			return true
		}
	}
	return false
}

// Store persists client state to disk, one file per remote.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Load reads the state remembered for remote. The bool is false when
// nothing was saved yet.
func (s *Store) Load(remote string) (ClientState, bool, error) {
	path := s.pathForRemote(remote)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("state load miss", "remote", remote)
			}
			return ClientState{}, false, nil
		}
		s.warn("state load failed", remote, err)
		return ClientState{}, false, err
	}
	var state ClientState
	if err := json.Unmarshal(data, &state); err != nil {
		s.warn("state load failed", remote, err)
		return ClientState{}, false, err
	}
	if s.log != nil {
		s.log.Debug("state load ok", "remote", remote, "sessions", len(state.Sessions))
	}
	return state, true, nil
}

// Save writes state for remote atomically.
func (s *Store) Save(remote string, state ClientState) error {
	path := s.pathForRemote(remote)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		s.warn("state save failed", remote, err)
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		s.warn("state save failed", remote, err)
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		s.warn("state save failed", remote, err)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		s.warn("state save failed", remote, err)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		s.warn("state save failed", remote, err)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		s.warn("state save failed", remote, err)
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		s.warn("state save failed", remote, err)
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		s.warn("state save failed", remote, err)
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "remote", remote, "selected", state.Selected.Display())
	}
	return nil
}

func (s *Store) warn(msg, remote string, err error) {
	if s.log != nil {
		s.log.Warn(msg, "remote", remote, "err", err)
	}
}

func (s *Store) pathForRemote(remote string) string {
	name := sanitize(remote)
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
