// Package memory implements an in-memory archive Store for tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"roundcore/internal/blob"
)

func init() {
	blob.RegisterDriver(blob.DriverMemory, func(context.Context) (blob.Store, error) {
		return New(), nil
	})
}

type object struct {
	info blob.Info
	data []byte
}

// Store holds archive objects in process memory.
type Store struct {
	mu   sync.RWMutex
	objs map[string]object
}

// New returns an empty in-memory archive store.
func New() *Store {
	return &Store{objs: make(map[string]object)}
}

// Driver implements blob.Store.
func (s *Store) Driver() blob.Driver { return blob.DriverMemory }

// Put stores a new object; a key that already exists is rejected.
func (s *Store) Put(_ context.Context, key string, payload []byte, opts blob.PutOptions) (blob.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objs[key]; exists {
		return blob.Info{}, &keyExistsError{key: key}
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	info := blob.Info{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		Metadata:     blob.CloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
	}
	s.objs[key] = object{info: info, data: data}
	return info, nil
}

// Get returns the object's metadata and a copy of its contents.
func (s *Store) Get(_ context.Context, key string) (blob.Info, []byte, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return blob.Info{}, nil, blob.ErrNotFound
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	info := obj.info
	info.Metadata = blob.CloneMetadata(info.Metadata)
	return info, data, nil
}

// Head returns object metadata only.
func (s *Store) Head(_ context.Context, key string) (blob.Info, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return blob.Info{}, blob.ErrNotFound
	}
	info := obj.info
	info.Metadata = blob.CloneMetadata(info.Metadata)
	return info, nil
}

// Delete removes the object, reporting whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[key]; !ok {
		return false, nil
	}
	delete(s.objs, key)
	return true, nil
}

// List returns objects under the prefix ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]blob.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]blob.Info, 0, len(s.objs))
	for key, obj := range s.objs {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		info := obj.info
		info.Metadata = blob.CloneMetadata(info.Metadata)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

type keyExistsError struct {
	key string
}

func (e *keyExistsError) Error() string {
	return "archive object " + e.key + " already exists"
}
