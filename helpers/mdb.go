package helpers

import (
	"reflect"
	"sync"
	"time"

	"github.com/arkanite/keeper/cache"
	"github.com/arkanite/keeper/models"
	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"
	"github.com/pkg/errors"
)

var (
	mDbSession  *mgo.Session
	mDbDatabase string
)

// writes are retried this many times before they go to the replay queue
const mdbWriteAttempts = 3

// ConnectMDB connects to mongodb and stores the session
func ConnectMDB(url string, database string) {
	var err error

	log := cache.GetLogger()
	log.WithField("module", "mdb").Info("Connecting to " + url)

	mgo.SetDebug(false)

	mDbSession, err = mgo.Dial(url)
	if err != nil {
		log.WithField("module", "mdb").Error(err.Error())
		panic(err)
	}

	mDbSession.SetMode(mgo.Primary, false)
	mDbSession.SetSafe(&mgo.Safe{})

	mDbDatabase = database

	log.WithField("module", "mdb").Info("Connected!")

	go replayLoop()
}

// GetMDb is a simple getter for the mongodb database.
func GetMDb() *mgo.Database {
	return mDbSession.DB(mDbDatabase)
}

// GetMDbSession is a simple getter for the mongodb session.
func GetMDbSession() *mgo.Session {
	return mDbSession
}

func MdbCollection(collection models.MongoDbCollection) *mgo.Collection {
	return GetMDb().C(string(collection))
}

// MDbInsert inserts $data into $collection, assigning a fresh ObjectId to
// its ID field if unset.
func MDbInsert(collection models.MongoDbCollection, data interface{}) (bson.ObjectId, error) {
	var recordData reflect.Value
	if reflect.ValueOf(data).Kind() != reflect.Ptr {
		recordData = reflect.New(reflect.TypeOf(data)).Elem()
		recordData.Set(reflect.ValueOf(data))
	} else {
		recordData = reflect.ValueOf(data).Elem()
	}

	idField := recordData.FieldByName("ID")
	if !idField.IsValid() {
		return bson.ObjectId(""), errors.New("mdb: record has no ID field")
	}

	newID := idField.String()
	if newID == "" {
		newID = string(bson.NewObjectId())
		idField.SetString(newID)
	}

	err := mdbWrite(func() error {
		return MdbCollection(collection).Insert(recordData.Interface())
	})
	if err != nil {
		return bson.ObjectId(""), errors.Wrap(err, "mdb insert failed")
	}

	return bson.ObjectId(newID), nil
}

// MDbUpdate replaces the record with $id in $collection with $data.
func MDbUpdate(collection models.MongoDbCollection, id bson.ObjectId, data interface{}) error {
	if !id.Valid() {
		return errors.New("mdb: invalid id")
	}

	return mdbWrite(func() error {
		return MdbCollection(collection).UpdateId(id, data)
	})
}

// MDbUpdateQuery applies $update (e.g. a $set or $inc document) to the
// records matching $selector, so single fields can change without
// rewriting the whole record.
func MDbUpdateQuery(collection models.MongoDbCollection, selector interface{}, update interface{}) error {
	return mdbWrite(func() error {
		return MdbCollection(collection).Update(selector, update)
	})
}

// MDbUpsert inserts or replaces the record matching $selector.
func MDbUpsert(collection models.MongoDbCollection, selector interface{}, data interface{}) error {
	return mdbWrite(func() error {
		_, err := MdbCollection(collection).Upsert(selector, data)
		return err
	})
}

// MDbUpsertOnce inserts or replaces the record matching $selector with
// bounded retries only. A failed write stays failed and is never queued
// for replay, so multi-record invariants remain under the caller's
// control.
func MDbUpsertOnce(collection models.MongoDbCollection, selector interface{}, data interface{}) error {
	return mdbTryWrite(func() error {
		_, err := MdbCollection(collection).Upsert(selector, data)
		return err
	})
}

// MDbUpsertID inserts or replaces the record with $id.
func MDbUpsertID(collection models.MongoDbCollection, id bson.ObjectId, data interface{}) error {
	if !id.Valid() {
		return errors.New("mdb: invalid id")
	}

	return mdbWrite(func() error {
		_, err := MdbCollection(collection).UpsertId(id, data)
		return err
	})
}

// MDbDelete removes the record with $id from $collection.
func MDbDelete(collection models.MongoDbCollection, id bson.ObjectId) error {
	if !id.Valid() {
		return errors.New("mdb: invalid id")
	}

	return mdbWrite(func() error {
		return MdbCollection(collection).RemoveId(id)
	})
}

// MdbDeleteQuery removes all records matching $selector.
func MdbDeleteQuery(collection models.MongoDbCollection, selector interface{}) error {
	return mdbWrite(func() error {
		_, err := MdbCollection(collection).RemoveAll(selector)
		return err
	})
}

// MdbOne runs $query and decodes the first result into $object.
func MdbOne(query *mgo.Query, object interface{}) error {
	return query.One(object)
}

// MdbAll runs $query and decodes every result into $objects.
func MdbAll(query *mgo.Query, objects interface{}) error {
	return query.All(objects)
}

// MdbCount returns the number of records matching $query.
func MdbCount(collection models.MongoDbCollection, query interface{}) (int, error) {
	return MdbCollection(collection).Find(query).Count()
}

func IsMdbNotFound(err error) bool {
	return errors.Cause(err) == mgo.ErrNotFound
}

// mdbTryWrite runs $write with bounded retries and returns the last
// error.
func mdbTryWrite(write func() error) error {
	var err error
	for attempt := 0; attempt < mdbWriteAttempts; attempt++ {
		err = write()
		if err == nil || IsMdbNotFound(err) || mgo.IsDup(err) {
			return err
		}

		time.Sleep(time.Duration(attempt+1) * 250 * time.Millisecond)
	}

	return err
}

// mdbWrite runs $write with bounded retries. A write that still fails is
// queued for replay so the state change is reported, not lost.
func mdbWrite(write func() error) error {
	err := mdbTryWrite(write)
	if err == nil || IsMdbNotFound(err) || mgo.IsDup(err) {
		return err
	}

	queueReplay(write)
	return errors.Wrap(err, "mdb write failed, queued for replay")
}

var (
	replayQueue      []func() error
	replayQueueMutex sync.Mutex
)

func queueReplay(write func() error) {
	replayQueueMutex.Lock()
	replayQueue = append(replayQueue, write)
	replayQueueMutex.Unlock()
}

// replayLoop periodically retries writes that exhausted their attempts.
func replayLoop() {
	defer Recover()

	for {
		time.Sleep(30 * time.Second)

		replayQueueMutex.Lock()
		pending := replayQueue
		replayQueue = nil
		replayQueueMutex.Unlock()

		for _, write := range pending {
			if err := write(); err != nil {
				queueReplay(write)
				RelaxLog(err)
			}
		}
	}
}
