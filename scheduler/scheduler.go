// Package scheduler drives all timed work: reminders, scheduled
// messages, stat refreshes and purge sweeps. Tasks are persisted, a
// restart reloads them and runs missed ones once.
package scheduler

import (
	"sync"
	"time"

	"github.com/arkanite/keeper/cache"
	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/metrics"
	"github.com/arkanite/keeper/models"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	lane "gopkg.in/oleiade/lane.v1"
)

// Executor runs one task kind. Errors are reported, interval tasks stay
// in their recurrence cycle regardless.
type Executor func(entry models.ScheduledTaskEntry) error

// Scheduler orders pending tasks by fire time in a priority queue. The
// dispatch loop pops and runs due tasks one at a time.
type Scheduler struct {
	store TaskStore

	mutex   sync.Mutex
	queue   *lane.PQueue
	entries map[string]models.ScheduledTaskEntry

	executors map[models.TaskKind]Executor

	now  func() time.Time
	wake chan struct{}
	stop chan struct{}
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		store:     &mdbTaskStore{},
		queue:     lane.NewPQueue(lane.MINPQ),
		entries:   make(map[string]models.ScheduledTaskEntry),
		executors: make(map[models.TaskKind]Executor),
		now:       time.Now,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// RegisterExecutor binds one task kind to its executor. Called during
// wiring, before Start.
func (s *Scheduler) RegisterExecutor(kind models.TaskKind, executor Executor) {
	s.executors[kind] = executor
}

// Start loads the persisted tasks and runs the dispatch loop. Tasks
// whose fire time passed while the process was down run once right away.
func (s *Scheduler) Start() error {
	pending, err := s.store.All()
	if err != nil {
		return err
	}

	s.mutex.Lock()
	for _, entry := range pending {
		s.entries[entry.TaskID] = entry
		s.queue.Push(entry.TaskID, int(entry.FireAt.UnixNano()))
	}
	s.mutex.Unlock()

	cache.GetLogger().WithField("module", "scheduler").Infof("loaded %d pending tasks", len(pending))

	go s.dispatchLoop()
	return nil
}

func (s *Scheduler) Stop() {
	close(s.stop)
}

// Schedule persists and enqueues $entry. A missing task id gets
// assigned.
func (s *Scheduler) Schedule(entry models.ScheduledTaskEntry) (string, error) {
	if entry.Kind == "" {
		return "", errors.New("scheduler: task kind is required")
	}
	if entry.FireAt.IsZero() {
		return "", errors.New("scheduler: fire time is required")
	}
	if entry.TaskID == "" {
		taskID, err := uuid.NewV4()
		if err != nil {
			return "", err
		}
		entry.TaskID = taskID.String()
	}

	if err := s.store.Insert(entry); err != nil {
		return "", err
	}

	s.mutex.Lock()
	s.entries[entry.TaskID] = entry
	s.queue.Push(entry.TaskID, int(entry.FireAt.UnixNano()))
	s.mutex.Unlock()

	s.wakeLoop()
	return entry.TaskID, nil
}

// Cancel removes a pending task. Cancelling a task that already fired
// or never existed is a no-op.
func (s *Scheduler) Cancel(taskID string) error {
	s.mutex.Lock()
	_, pending := s.entries[taskID]
	delete(s.entries, taskID)
	s.mutex.Unlock()

	if !pending {
		return nil
	}
	return s.store.Delete(taskID)
}

// Pending lists the queued tasks of one guild, every guild for the
// empty string.
func (s *Scheduler) Pending(guildID string) []models.ScheduledTaskEntry {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var pending []models.ScheduledTaskEntry
	for _, entry := range s.entries {
		if guildID == "" || entry.GuildID == guildID {
			pending = append(pending, entry)
		}
	}
	return pending
}

func (s *Scheduler) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatchLoop() {
	defer helpers.Recover()

	for {
		wait := s.dispatchDue()

		timer := time.NewTimer(wait)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// dispatchDue pops every due task and hands it to runTask. Returns how
// long the loop may sleep until the next task is due.
func (s *Scheduler) dispatchDue() time.Duration {
	wait := time.Minute

	s.mutex.Lock()
	for {
		head, priority := s.queue.Head()
		if head == nil {
			break
		}

		taskID, ok := head.(string)
		if !ok {
			s.queue.Pop()
			continue
		}

		entry, pending := s.entries[taskID]
		if !pending {
			// cancelled while queued
			s.queue.Pop()
			continue
		}

		fireAt := time.Unix(0, int64(priority))
		if remaining := fireAt.Sub(s.now()); remaining > 0 {
			if remaining < wait {
				wait = remaining
			}
			break
		}

		s.queue.Pop()
		delete(s.entries, taskID)

		// one task at a time keeps interval drift bounded
		s.mutex.Unlock()
		func() {
			defer helpers.Recover()
			s.runTask(entry)
		}()
		s.mutex.Lock()
	}
	s.mutex.Unlock()

	return wait
}

// runTask executes one task and reschedules interval tasks anchored at
// the completion time, so execution latency cannot accumulate as drift.
func (s *Scheduler) runTask(entry models.ScheduledTaskEntry) {
	executor, ok := s.executors[entry.Kind]

	var err error
	if !ok {
		err = errors.Errorf("scheduler: no executor for kind %s", entry.Kind)
	} else {
		err = executor(entry)
	}

	if err != nil {
		metrics.TasksFailed.Add(1)
		helpers.RelaxLog(err)
	} else {
		metrics.TasksExecuted.Add(1)
	}

	if entry.Interval <= 0 {
		helpers.RelaxLog(s.store.Delete(entry.TaskID))
		return
	}

	entry.FireAt = s.now().Add(entry.Interval)
	helpers.RelaxLog(s.store.UpdateFireAt(entry.TaskID, entry.FireAt))

	s.mutex.Lock()
	s.entries[entry.TaskID] = entry
	s.queue.Push(entry.TaskID, int(entry.FireAt.UnixNano()))
	s.mutex.Unlock()

	s.wakeLoop()
}
