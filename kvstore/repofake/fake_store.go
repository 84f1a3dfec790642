package kvstorefake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-ride-session/kvstore"
)

var _ kvstore.Store = (*FakeStore)(nil)

// FakeStore is an in-memory kvstore.Store. Individual operations can be made
// to fail so callers' degradation paths can be exercised.
type FakeStore struct {
	values map[string]string
	fail   map[string]error // operation -> error
	calls  map[string]int   // operation -> count
	lock   sync.RWMutex
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		values: make(map[string]string),
		fail:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// FailOn makes every subsequent call to operation ("get", "set", "delete", "has")
// return err. A nil err clears the failure.
func (s *FakeStore) FailOn(operation string, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err == nil {
		delete(s.fail, operation)
		return
	}
	s.fail[operation] = err
}

// Calls returns how many times operation has been invoked.
func (s *FakeStore) Calls(operation string) int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.calls[operation]
}

// Snapshot returns a copy of the stored values.
func (s *FakeStore) Snapshot() map[string]string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *FakeStore) Get(_ context.Context, key string) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.calls["get"]++
	if err := s.fail["get"]; err != nil {
		return "", &kvstore.StoreError{Operation: "get", Key: key, Cause: err}
	}
	v, ok := s.values[key]
	if !ok {
		return "", kvstore.ErrNotFound
	}
	return v, nil
}

func (s *FakeStore) Set(_ context.Context, key, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.calls["set"]++
	if err := s.fail["set"]; err != nil {
		return &kvstore.StoreError{Operation: "set", Key: key, Cause: err}
	}
	s.values[key] = value
	return nil
}

func (s *FakeStore) Delete(_ context.Context, key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.calls["delete"]++
	if err := s.fail["delete"]; err != nil {
		return &kvstore.StoreError{Operation: "delete", Key: key, Cause: err}
	}
	delete(s.values, key)
	return nil
}

func (s *FakeStore) Has(_ context.Context, key string) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.calls["has"]++
	if err := s.fail["has"]; err != nil {
		return false, &kvstore.StoreError{Operation: "has", Key: key, Cause: err}
	}
	_, ok := s.values[key]
	return ok, nil
}
