package scheduler

import (
	"time"

	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/models"
	"github.com/globalsign/mgo/bson"
)

// TaskStore persists pending tasks so a restart loses nothing.
type TaskStore interface {
	All() ([]models.ScheduledTaskEntry, error)
	Insert(entry models.ScheduledTaskEntry) error
	UpdateFireAt(taskID string, fireAt time.Time) error
	Delete(taskID string) error
}

type mdbTaskStore struct{}

func (s *mdbTaskStore) All() ([]models.ScheduledTaskEntry, error) {
	var entries []models.ScheduledTaskEntry
	err := helpers.MdbAll(helpers.MdbCollection(models.ScheduledTasksTable).Find(nil), &entries)
	return entries, err
}

func (s *mdbTaskStore) Insert(entry models.ScheduledTaskEntry) error {
	_, err := helpers.MDbInsert(models.ScheduledTasksTable, entry)
	return err
}

func (s *mdbTaskStore) UpdateFireAt(taskID string, fireAt time.Time) error {
	return helpers.MDbUpdateQuery(
		models.ScheduledTasksTable,
		bson.M{"taskid": taskID},
		bson.M{"$set": bson.M{"fireat": fireAt}},
	)
}

func (s *mdbTaskStore) Delete(taskID string) error {
	return helpers.MdbDeleteQuery(models.ScheduledTasksTable, bson.M{"taskid": taskID})
}
