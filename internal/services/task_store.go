package services

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/types"
	"github.com/yungbote/bilirag-backend/internal/utils"
)

// ErrBuildInFlight is returned when a build is already pending or running.
// Builds mutate the shared vector store, so only one may be active at a
// time across all folders.
var ErrBuildInFlight = errors.New("a build is already in flight")

// TaskStore holds build tasks in process memory. Terminal tasks are swept
// after a retention window so long-lived processes do not accumulate them.
type TaskStore struct {
	log       *logger.Logger
	mu        sync.RWMutex
	tasks     map[string]*types.BuildTask
	active    string
	retention time.Duration
}

func NewTaskStore(log *logger.Logger) *TaskStore {
	retention := utils.GetEnvAsDuration("TASK_RETENTION", time.Hour, log)
	store := &TaskStore{
		log:       log.With("service", "TaskStore"),
		tasks:     make(map[string]*types.BuildTask),
		retention: retention,
	}
	go store.sweepLoop()
	return store
}

// Create registers a pending task covering the given folders. Fails with
// ErrBuildInFlight while any task is still non-terminal.
func (s *TaskStore) Create(mediaIDs []int64) (types.BuildTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.tasks[s.active]; ok && !current.Status.Terminal() {
		return types.BuildTask{}, ErrBuildInFlight
	}

	task := &types.BuildTask{
		TaskID:    uuid.NewString(),
		MediaIDs:  append([]int64(nil), mediaIDs...),
		Status:    types.BuildPending,
		Message:   "queued",
		StartedAt: time.Now().UTC(),
	}
	s.tasks[task.TaskID] = task
	s.active = task.TaskID
	return *task, nil
}

// Get returns a copy of the task, false when unknown or already swept.
func (s *TaskStore) Get(taskID string) (types.BuildTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return types.BuildTask{}, false
	}
	return *task, true
}

// Active returns the current non-terminal task, if any.
func (s *TaskStore) Active() (types.BuildTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[s.active]
	if !ok || task.Status.Terminal() {
		return types.BuildTask{}, false
	}
	return *task, true
}

// Update applies mutate to the task under the write lock. Unknown IDs are a
// no-op so late updates from a finished build cannot panic. Terminal tasks
// are frozen and ignore further updates.
func (s *TaskStore) Update(taskID string, mutate func(*types.BuildTask)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || task.Status.Terminal() {
		return
	}
	mutate(task)
	if task.Status.Terminal() && task.FinishedAt == nil {
		now := time.Now().UTC()
		task.FinishedAt = &now
	}
}

func (s *TaskStore) sweepLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.sweep(time.Now())
	}
}

func (s *TaskStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range s.tasks {
		if !task.Status.Terminal() || task.FinishedAt == nil {
			continue
		}
		if now.Sub(*task.FinishedAt) < s.retention {
			continue
		}
		delete(s.tasks, id)
		if s.active == id {
			s.active = ""
		}
	}
}
