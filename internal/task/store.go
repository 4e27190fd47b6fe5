package task

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loomd/internal/phase"
)

// ErrNotFound is returned when a task ID is not in the store.
var ErrNotFound = errors.New("task not found")

// Scrubber removes secrets from build output before it is stored.
// Implementations return the scrubbed content and the finding count.
type Scrubber interface {
	Scrub(content string) (string, int)
}

// Config configures the task store.
type Config struct {
	// MaxLogEntries bounds each task's log and build-log sequences after
	// every mutation. Zero disables retention.
	MaxLogEntries int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxLogEntries: 10000,
	}
}

// Store is the in-memory task collection.
//
// The collection lock guards only the map; every task carries its own
// mutex so that check-then-act sequences (a submission legality check
// followed by the phase transition) are atomic per task without holding
// the collection lock across task work.
type Store struct {
	config   *Config
	scrubber Scrubber
	logger   *zap.Logger

	mu    sync.RWMutex
	tasks map[string]*slot
}

type slot struct {
	mu   sync.Mutex
	task *Task
}

// NewStore creates a task store. The scrubber is optional; when present,
// build-log lines pass through it before storage.
func NewStore(cfg *Config, scrubber Scrubber, logger *zap.Logger) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		config:   cfg,
		scrubber: scrubber,
		logger:   logger,
		tasks:    make(map[string]*slot),
	}
}

// CreateRequest carries the fields for a new task.
type CreateRequest struct {
	BeadID       string `json:"bead_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	WorktreePath string `json:"worktree_path"`
}

// Create adds a new task and returns a snapshot of it.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	if req.Title == "" {
		return nil, errors.New("title is required")
	}

	t := New(req.BeadID, req.Title, req.Description)
	t.WorktreePath = req.WorktreePath

	s.mu.Lock()
	s.tasks[t.ID] = &slot{task: t}
	s.mu.Unlock()

	s.logger.Debug("task created",
		zap.String("task_id", t.ID),
		zap.String("bead_id", t.BeadID),
		zap.String("title", t.Title),
	)

	return t.Clone(), nil
}

// Get returns a snapshot of the task, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	sl, ok := s.slotFor(id)
	if !ok {
		return nil, ErrNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.task.Clone(), nil
}

// List returns snapshots of every task, oldest first.
func (s *Store) List(ctx context.Context) []*Task {
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.tasks))
	for _, sl := range s.tasks {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	out := make([]*Task, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		out = append(out, sl.task.Clone())
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update runs fn against the live task under that task's lock. The
// collection lock is not held while fn runs. When retention is
// configured, the log sequences are re-bounded after a successful fn.
func (s *Store) Update(ctx context.Context, id string, fn func(*Task) error) error {
	sl, ok := s.slotFor(id)
	if !ok {
		return ErrNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if err := fn(sl.task); err != nil {
		return err
	}
	if s.config.MaxLogEntries > 0 {
		sl.task.TruncateLogs(s.config.MaxLogEntries)
	}
	return nil
}

// AppendBuildLog records one build-output line against the task,
// scrubbing it first when a scrubber is configured. It returns the
// line as stored so callers fanning it out never see pre-scrub text.
func (s *Store) AppendBuildLog(ctx context.Context, id string, stream Stream, p phase.Phase, line string) (string, error) {
	if s.scrubber != nil {
		scrubbed, findings := s.scrubber.Scrub(line)
		if findings > 0 {
			s.logger.Warn("scrubbed secrets from build log",
				zap.String("task_id", id),
				zap.Int("findings", findings),
			)
		}
		line = scrubbed
	}
	err := s.Update(ctx, id, func(t *Task) error {
		t.AppendBuildLog(stream, p, line)
		return nil
	})
	if err != nil {
		return "", err
	}
	return line, nil
}

// TruncateLogs bounds the task's log sequences to the most recent max
// entries.
func (s *Store) TruncateLogs(ctx context.Context, id string, max int) error {
	return s.Update(ctx, id, func(t *Task) error {
		t.TruncateLogs(max)
		return nil
	})
}

func (s *Store) slotFor(id string) (*slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.tasks[id]
	return sl, ok
}
