package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/arkanite/keeper/models"
	"github.com/pkg/errors"
	lane "gopkg.in/oleiade/lane.v1"
)

type memoryTaskStore struct {
	mutex   sync.Mutex
	entries map[string]models.ScheduledTaskEntry
}

func newMemoryTaskStore() *memoryTaskStore {
	return &memoryTaskStore{entries: make(map[string]models.ScheduledTaskEntry)}
}

func (s *memoryTaskStore) All() ([]models.ScheduledTaskEntry, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var all []models.ScheduledTaskEntry
	for _, entry := range s.entries {
		all = append(all, entry)
	}
	return all, nil
}

func (s *memoryTaskStore) Insert(entry models.ScheduledTaskEntry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.entries[entry.TaskID] = entry
	return nil
}

func (s *memoryTaskStore) UpdateFireAt(taskID string, fireAt time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if entry, ok := s.entries[taskID]; ok {
		entry.FireAt = fireAt
		s.entries[taskID] = entry
	}
	return nil
}

func (s *memoryTaskStore) Delete(taskID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.entries, taskID)
	return nil
}

func (s *memoryTaskStore) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.entries)
}

func testScheduler(store TaskStore, at time.Time) *Scheduler {
	current := at
	return &Scheduler{
		store:     store,
		queue:     lane.NewPQueue(lane.MINPQ),
		entries:   make(map[string]models.ScheduledTaskEntry),
		executors: make(map[models.TaskKind]Executor),
		now:       func() time.Time { return current },
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

func TestScheduleAndCancel(t *testing.T) {
	store := newMemoryTaskStore()
	scheduler := testScheduler(store, time.Now())

	taskID, err := scheduler.Schedule(models.ScheduledTaskEntry{
		Kind:    models.TaskKindReminder,
		GuildID: "guild-1",
		FireAt:  time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if taskID == "" {
		t.Fatalf("no task id assigned")
	}
	if store.count() != 1 {
		t.Fatalf("task not persisted")
	}
	if len(scheduler.Pending("guild-1")) != 1 {
		t.Fatalf("task not pending")
	}

	if err = scheduler.Cancel(taskID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if store.count() != 0 {
		t.Fatalf("cancelled task still persisted")
	}
	if len(scheduler.Pending("guild-1")) != 0 {
		t.Fatalf("cancelled task still pending")
	}

	// cancelling again, or an unknown id, is a no-op
	if err = scheduler.Cancel(taskID); err != nil {
		t.Fatalf("double cancel errored: %v", err)
	}
	if err = scheduler.Cancel("ghost"); err != nil {
		t.Fatalf("unknown cancel errored: %v", err)
	}
}

func TestScheduleValidation(t *testing.T) {
	scheduler := testScheduler(newMemoryTaskStore(), time.Now())

	if _, err := scheduler.Schedule(models.ScheduledTaskEntry{FireAt: time.Now()}); err == nil {
		t.Fatalf("missing kind accepted")
	}
	if _, err := scheduler.Schedule(models.ScheduledTaskEntry{Kind: models.TaskKindReminder}); err == nil {
		t.Fatalf("missing fire time accepted")
	}
}

func TestDispatchRunsDueTasksInOrder(t *testing.T) {
	store := newMemoryTaskStore()
	base := time.Now()

	scheduler := testScheduler(store, base)
	current := base
	scheduler.now = func() time.Time { return current }

	var mutex sync.Mutex
	var ran []string
	done := make(chan struct{}, 4)
	scheduler.RegisterExecutor(models.TaskKindReminder, func(entry models.ScheduledTaskEntry) error {
		mutex.Lock()
		ran = append(ran, entry.TaskID)
		mutex.Unlock()
		done <- struct{}{}
		return nil
	})

	scheduler.Schedule(models.ScheduledTaskEntry{TaskID: "late", Kind: models.TaskKindReminder, FireAt: base.Add(2 * time.Minute)})
	scheduler.Schedule(models.ScheduledTaskEntry{TaskID: "early", Kind: models.TaskKindReminder, FireAt: base.Add(1 * time.Minute)})
	scheduler.Schedule(models.ScheduledTaskEntry{TaskID: "future", Kind: models.TaskKindReminder, FireAt: base.Add(time.Hour)})

	// nothing is due yet
	scheduler.dispatchDue()
	if len(scheduler.Pending("")) != 3 {
		t.Fatalf("tasks ran before their fire time")
	}

	current = base.Add(3 * time.Minute)
	scheduler.dispatchDue()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("due task did not run")
		}
	}

	mutex.Lock()
	defer mutex.Unlock()
	if len(ran) != 2 {
		t.Fatalf("expected 2 tasks run, got %d", len(ran))
	}
	if ran[0] != "early" || ran[1] != "late" {
		t.Fatalf("tasks ran out of order: %v", ran)
	}
}

func TestOneShotDeletedAfterRun(t *testing.T) {
	store := newMemoryTaskStore()
	scheduler := testScheduler(store, time.Now())
	scheduler.RegisterExecutor(models.TaskKindReminder, func(entry models.ScheduledTaskEntry) error {
		return nil
	})

	entry := models.ScheduledTaskEntry{TaskID: "once", Kind: models.TaskKindReminder, FireAt: time.Now()}
	store.Insert(entry)

	scheduler.runTask(entry)

	if store.count() != 0 {
		t.Fatalf("one shot task survived its run")
	}
}

func TestIntervalAnchorsAtCompletion(t *testing.T) {
	store := newMemoryTaskStore()
	base := time.Now()

	scheduler := testScheduler(store, base)
	current := base
	scheduler.now = func() time.Time { return current }

	// execution takes 10 seconds of clock time
	scheduler.RegisterExecutor(models.TaskKindStatRefresh, func(entry models.ScheduledTaskEntry) error {
		current = current.Add(10 * time.Second)
		return nil
	})

	entry := models.ScheduledTaskEntry{
		TaskID:   "recurring",
		Kind:     models.TaskKindStatRefresh,
		FireAt:   base.Add(-time.Minute), // long overdue
		Interval: time.Minute,
	}
	store.Insert(entry)

	scheduler.runTask(entry)

	stored := store.entries["recurring"]
	expected := current.Add(time.Minute)
	if !stored.FireAt.Equal(expected) {
		t.Fatalf("expected next fire anchored at completion %v, got %v", expected, stored.FireAt)
	}
	if len(scheduler.Pending("")) != 1 {
		t.Fatalf("interval task not requeued")
	}
}

func TestIntervalSurvivesExecutorError(t *testing.T) {
	store := newMemoryTaskStore()
	scheduler := testScheduler(store, time.Now())
	scheduler.RegisterExecutor(models.TaskKindPurgeSweep, func(entry models.ScheduledTaskEntry) error {
		return errors.New("sweep failed")
	})

	entry := models.ScheduledTaskEntry{
		TaskID:   "sweeper",
		Kind:     models.TaskKindPurgeSweep,
		FireAt:   time.Now(),
		Interval: time.Minute,
	}
	store.Insert(entry)

	scheduler.runTask(entry)

	if store.count() != 1 {
		t.Fatalf("failing interval task fell out of its recurrence")
	}
	if len(scheduler.Pending("")) != 1 {
		t.Fatalf("failing interval task not requeued")
	}
}

func TestStartRunsMissedTasksOnce(t *testing.T) {
	store := newMemoryTaskStore()
	store.Insert(models.ScheduledTaskEntry{
		TaskID: "missed",
		Kind:   models.TaskKindReminder,
		FireAt: time.Now().Add(-time.Hour),
	})

	scheduler := testScheduler(store, time.Now())

	done := make(chan string, 2)
	scheduler.RegisterExecutor(models.TaskKindReminder, func(entry models.ScheduledTaskEntry) error {
		done <- entry.TaskID
		return nil
	})

	if err := scheduler.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer scheduler.Stop()

	select {
	case taskID := <-done:
		if taskID != "missed" {
			t.Fatalf("unexpected task %s", taskID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("missed task never ran")
	}

	// run exactly once
	select {
	case <-done:
		t.Fatalf("missed task replayed")
	case <-time.After(200 * time.Millisecond):
	}

	if store.count() != 0 {
		t.Fatalf("missed one shot task not cleaned up")
	}
}
