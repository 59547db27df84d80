package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StateStore remembers the last task started for each job so a restarted
// client resumes watching it instead of starting over. It is a small JSON
// file rewritten atomically on every change.
type StateStore struct {
	mu    sync.Mutex
	path  string
	tasks map[string]string
}

func OpenStateStore(path string) (*StateStore, error) {
	s := &StateStore{path: path, tasks: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.tasks); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	return s, nil
}

func (s *StateStore) Get(jobID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tasks[jobID]
	return id, ok
}

func (s *StateStore) Put(jobID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[jobID] = taskID
	return s.save()
}

func (s *StateStore) Clear(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[jobID]; !ok {
		return nil
	}
	delete(s.tasks, jobID)
	return s.save()
}

func (s *StateStore) save() error {
	data, err := json.MarshalIndent(s.tasks, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
