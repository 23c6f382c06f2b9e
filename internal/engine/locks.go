package engine

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex serializes work per key and forgets idle keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

var workflowLocks = &keyedMutex{locks: map[string]*lockEntry{}}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func projectKey(projectID string) string {
	return "project:" + projectID
}

func supplierKey(projectID, lifecycle, supplierID string) string {
	return "supplier:" + projectID + ":" + lifecycle + ":" + supplierID
}

func sendKey(projectID, lifecycle string) string {
	return "send:" + projectID + ":" + lifecycle
}

func syncKey(projectID, lifecycle string) string {
	return "sync:" + projectID + ":" + lifecycle
}

func followUpKey(projectID string) string {
	return "followup:" + projectID
}
