package ratelimits

import (
	"errors"
	"sync"
	"time"
)

// BucketContainer hands out send keys per destination key. The logging
// router drains one key per outbound message, so delivery to one
// destination can never run faster than the drip interval sustains.
type BucketContainer struct {
	sync.RWMutex

	// how many keys a bucket holds when created
	initialFill int8

	// the maximum amount of keys a bucket may hold
	upperBound int8

	// how often new keys drip into the buckets
	dropInterval time.Duration

	// how many keys drop at a time
	dropSize int8

	// maps destination keys to key counts
	buckets map[string]int8
}

// NewBucketContainer allocates the bucket map and starts the refiller.
func NewBucketContainer(initialFill int8, upperBound int8, dropInterval time.Duration, dropSize int8) *BucketContainer {
	b := &BucketContainer{
		initialFill:  initialFill,
		upperBound:   upperBound,
		dropInterval: dropInterval,
		dropSize:     dropSize,
		buckets:      make(map[string]int8),
	}

	go b.refiller()

	return b
}

// refiller refills buckets in a set interval
func (b *BucketContainer) refiller() {
	for {
		b.Lock()
		for key, keys := range b.buckets {
			if keys < b.upperBound {
				b.buckets[key] += b.dropSize
			}
		}
		b.Unlock()

		time.Sleep(b.dropInterval)
	}
}

// createBucketIfNotExists creates a bucket for $key if none exists
func (b *BucketContainer) createBucketIfNotExists(key string) {
	b.RLock()
	_, e := b.buckets[key]
	b.RUnlock()

	if !e {
		b.Lock()
		b.buckets[key] = b.initialFill
		b.Unlock()
	}
}

// Drain removes $amount keys from the bucket for $key if enough are left
func (b *BucketContainer) Drain(amount int8, key string) error {
	b.createBucketIfNotExists(key)

	b.Lock()
	defer b.Unlock()

	if amount > b.buckets[key] {
		return errors.New("no keys left")
	}

	b.buckets[key] -= amount
	return nil
}

// HasKeys checks if the bucket for $key has keys left
func (b *BucketContainer) HasKeys(key string) bool {
	b.createBucketIfNotExists(key)

	b.RLock()
	defer b.RUnlock()

	return b.buckets[key] > 0
}

func (b *BucketContainer) Get(key string) int8 {
	b.RLock()
	defer b.RUnlock()

	return b.buckets[key]
}

func (b *BucketContainer) Set(key string, value int8) {
	b.Lock()
	b.buckets[key] = value
	b.Unlock()
}
