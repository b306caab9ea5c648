package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"rewardkit/adapters/memory"
	"rewardkit/core"
	"rewardkit/ruleset"
)

// Store keeps everything in memory and rewrites a single JSON file after
// every mutation. Suitable for demos and small deployments.
type Store struct {
	*memory.Store
	path string
}

type document struct {
	Rules []json.RawMessage `json:"rules"`
	memory.Snapshot
}

func New(path string) (*Store, error) {
	s := &Store{Store: memory.New(), path: path}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	// persist runs with the memory store's write lock held.
	s.Store.OnChange(s.persist)
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	snap := doc.Snapshot
	snap.Rules = make([]core.Rule, 0, len(doc.Rules))
	for _, raw := range doc.Rules {
		r, err := ruleset.UnmarshalRule(raw)
		if err != nil {
			return fmt.Errorf("decode %s: %w", s.path, err)
		}
		snap.Rules = append(snap.Rules, r)
	}
	s.Store.Restore(snap)
	return nil
}

func (s *Store) persist() error {
	snap := s.Store.SnapshotLocked()
	doc := document{Snapshot: snap, Rules: make([]json.RawMessage, 0, len(snap.Rules))}
	for _, r := range snap.Rules {
		raw, err := ruleset.MarshalRule(r)
		if err != nil {
			return err
		}
		doc.Rules = append(doc.Rules, raw)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
