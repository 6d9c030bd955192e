package services

import (
	"errors"
	"testing"
	"time"

	"github.com/yungbote/bilirag-backend/internal/types"
)

func TestTaskStoreSingleFlight(t *testing.T) {
	store := NewTaskStore(newTestLogger(t))

	first, err := store.Create([]int64{42})
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if first.Status != types.BuildPending {
		t.Fatalf("status: want=%s got=%s", types.BuildPending, first.Status)
	}

	if _, err := store.Create([]int64{42}); !errors.Is(err, ErrBuildInFlight) {
		t.Fatalf("second Create: want=ErrBuildInFlight got=%v", err)
	}
	// The guard is system wide: a different folder is blocked too, since
	// every build writes the same vector store.
	if _, err := store.Create([]int64{43}); !errors.Is(err, ErrBuildInFlight) {
		t.Fatalf("other folder Create: want=ErrBuildInFlight got=%v", err)
	}

	// Once terminal, the next build can start.
	store.Update(first.TaskID, func(task *types.BuildTask) {
		task.Status = types.BuildCompleted
	})
	if _, err := store.Create([]int64{42}); err != nil {
		t.Fatalf("Create after completion: %v", err)
	}
}

func TestTaskStoreActive(t *testing.T) {
	store := NewTaskStore(newTestLogger(t))
	if _, ok := store.Active(); ok {
		t.Fatalf("Active on empty store succeeded")
	}

	task, _ := store.Create([]int64{42, 43})
	active, ok := store.Active()
	if !ok || active.TaskID != task.TaskID {
		t.Fatalf("Active: want=%s got=%+v ok=%v", task.TaskID, active, ok)
	}
	if len(active.MediaIDs) != 2 {
		t.Fatalf("folders: want=2 got=%v", active.MediaIDs)
	}

	store.Update(task.TaskID, func(task *types.BuildTask) {
		task.Status = types.BuildFailed
	})
	if _, ok := store.Active(); ok {
		t.Fatalf("terminal task still reported active")
	}
}

func TestTaskStoreUpdateSetsFinishedAt(t *testing.T) {
	store := NewTaskStore(newTestLogger(t))
	task, err := store.Create([]int64{1})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	store.Update(task.TaskID, func(task *types.BuildTask) {
		task.Status = types.BuildFailed
		task.Error = "boom"
	})

	got, ok := store.Get(task.TaskID)
	if !ok {
		t.Fatalf("task disappeared")
	}
	if got.Status != types.BuildFailed || got.Error != "boom" {
		t.Fatalf("task: got=%+v", got)
	}
	if got.FinishedAt == nil {
		t.Fatalf("FinishedAt not set on terminal transition")
	}
}

func TestTaskStoreTerminalTasksAreFrozen(t *testing.T) {
	store := NewTaskStore(newTestLogger(t))
	task, _ := store.Create([]int64{1})
	store.Update(task.TaskID, func(task *types.BuildTask) {
		task.Status = types.BuildCompleted
		task.Progress = 100
	})

	store.Update(task.TaskID, func(task *types.BuildTask) {
		task.Status = types.BuildRunning
		task.Progress = 10
		task.Message = "late update"
	})

	got, _ := store.Get(task.TaskID)
	if got.Status != types.BuildCompleted || got.Progress != 100 || got.Message == "late update" {
		t.Fatalf("terminal task mutated: got=%+v", got)
	}
}

func TestTaskStoreGetReturnsCopy(t *testing.T) {
	store := NewTaskStore(newTestLogger(t))
	task, _ := store.Create([]int64{1})

	got, _ := store.Get(task.TaskID)
	got.Progress = 99

	again, _ := store.Get(task.TaskID)
	if again.Progress != 0 {
		t.Fatalf("mutation leaked into store: progress=%d", again.Progress)
	}
}

func TestTaskStoreUnknownIDs(t *testing.T) {
	store := NewTaskStore(newTestLogger(t))
	if _, ok := store.Get("nope"); ok {
		t.Fatalf("Get for unknown id succeeded")
	}
	// Must not panic.
	store.Update("nope", func(task *types.BuildTask) {
		task.Progress = 10
	})
}

func TestTaskStoreSweepDropsOldTerminalTasks(t *testing.T) {
	store := NewTaskStore(newTestLogger(t))
	done, _ := store.Create([]int64{1})
	store.Update(done.TaskID, func(task *types.BuildTask) {
		task.Status = types.BuildCompleted
	})
	old := time.Now().Add(-2 * store.retention)
	store.mu.Lock()
	store.tasks[done.TaskID].FinishedAt = &old
	store.mu.Unlock()

	recent, _ := store.Create([]int64{2})
	store.Update(recent.TaskID, func(task *types.BuildTask) {
		task.Status = types.BuildCompleted
	})

	store.sweep(time.Now())

	if _, ok := store.Get(done.TaskID); ok {
		t.Fatalf("expired task survived sweep")
	}
	if _, ok := store.Get(recent.TaskID); !ok {
		t.Fatalf("fresh task swept")
	}
}
