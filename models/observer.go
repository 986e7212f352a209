package models

import (
	"sync"
	"time"
)

// EntityChange is the notification fired after an entity transition commits.
// It carries identifiers only; subscribers refetch what they care about.
type EntityChange struct {
	ShopId     string
	EntityType EntityType
	EntityId   string
	Status     SyncStatus
	Action     SyncAction
	At         time.Time
}

type ChangePredicate func(EntityChange) bool

type changeSubscriber struct {
	predicate ChangePredicate
	handler   func(EntityChange)
}

var (
	changeMu          sync.RWMutex
	changeSubscribers = map[int]changeSubscriber{}
	changeNextId      int
)

// SubscribeEntityChanges registers a handler for committed entity transitions
// matching the predicate (nil matches everything). Returns an unsubscribe
// func. Handlers run synchronously on the mutating goroutine and must not
// write back into the store.
func SubscribeEntityChanges(predicate ChangePredicate, handler func(EntityChange)) func() {
	changeMu.Lock()
	changeNextId++
	id := changeNextId
	changeSubscribers[id] = changeSubscriber{predicate: predicate, handler: handler}
	changeMu.Unlock()

	return func() {
		changeMu.Lock()
		delete(changeSubscribers, id)
		changeMu.Unlock()
	}
}

func notifyEntityChange(change EntityChange) {
	change.At = time.Now()

	changeMu.RLock()
	subs := make([]changeSubscriber, 0, len(changeSubscribers))
	for _, sub := range changeSubscribers {
		subs = append(subs, sub)
	}
	changeMu.RUnlock()

	for _, sub := range subs {
		if sub.predicate == nil || sub.predicate(change) {
			sub.handler(change)
		}
	}
}

// NotifyEntityChange is the exported hook for the sync engine, which flips
// entity rows through base.go helpers rather than the typed Create/Update
// paths below.
func NotifyEntityChange(change EntityChange) {
	notifyEntityChange(change)
}
