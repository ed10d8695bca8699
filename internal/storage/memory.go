package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"cfeagent/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	if s.runs == nil {
		s.runs = make(map[string][]byte)
	}
	return nil
}

// SaveRun stores an encoded copy so later mutation of run does not leak in.
func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = payload
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.RunRecord{}, false, errNotInitialized
	}
	payload, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, err
	}
	return run, true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}
	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, payload := range s.runs {
		run, err := DecodeRun(payload)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	sortNewestFirst(runs)
	return runs, nil
}

func sortNewestFirst(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}
