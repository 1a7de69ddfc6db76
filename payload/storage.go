package payload

import (
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/vecseg/model"
)

// Storage is the capability set every payload backend provides.
//
// Absence is never an error: a point without payload has an empty Payload and
// a missing key yields ok == false.
type Storage interface {
	// Assign sets one field, replacing any existing value under key.
	Assign(offset model.PointOffset, key string, value Value) error
	// AssignAll replaces the full payload of a point.
	AssignAll(offset model.PointOffset, p Payload) error
	// AssignAllWithValue flattens tree and replaces the full payload of a point.
	AssignAllWithValue(offset model.PointOffset, tree map[string]any) error
	// Payload returns a copy of the full payload of a point.
	Payload(offset model.PointOffset) Payload
	// Field returns one field of a point without copying the whole payload.
	Field(offset model.PointOffset, key string) (Value, bool)
	// Delete removes one field and returns its previous value.
	Delete(offset model.PointOffset, key string) (Value, bool, error)
	// Drop removes all fields of a point and returns them.
	Drop(offset model.PointOffset) (Payload, bool, error)
	// Wipe removes the payload of every point.
	Wipe() error
	// Flush forces pending writes to the backing medium.
	Flush() error
	// Schema aggregates the types of all stored keys.
	Schema() Schema
	// IterIDs yields the offsets that have any payload. Each call starts a fresh sequence.
	IterIDs() iter.Seq[model.PointOffset]
	// Len returns the number of points with payload.
	Len() int
}

// MemoryStorage is an in-memory Storage.
// It is safe for concurrent use.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[model.PointOffset]Payload
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[model.PointOffset]Payload)}
}

func (s *MemoryStorage) Assign(offset model.PointOffset, key string, value Value) error {
	if _, ok := schemaTypeOf(value.Kind); !ok {
		return typeMismatch(key, "keyword, integer or float", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[offset]
	if !ok {
		p = make(Payload, 1)
		s.data[offset] = p
	}
	p[key] = value.Clone()
	return nil
}

func (s *MemoryStorage) AssignAll(offset model.PointOffset, p Payload) error {
	for k, v := range p {
		if _, ok := schemaTypeOf(v.Kind); !ok {
			return typeMismatch(k, "keyword, integer or float", nil)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, offset)
	if len(p) > 0 {
		s.data[offset] = p.Clone()
	}
	return nil
}

func (s *MemoryStorage) AssignAllWithValue(offset model.PointOffset, tree map[string]any) error {
	p, err := Flatten(tree)
	if err != nil {
		return err
	}
	return s.AssignAll(offset, p)
}

func (s *MemoryStorage) Payload(offset model.PointOffset) Payload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[offset].Clone()
}

func (s *MemoryStorage) Field(offset model.PointOffset, key string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[offset][key]
	return v, ok
}

func (s *MemoryStorage) Delete(offset model.PointOffset, key string) (Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[offset]
	if !ok {
		return Value{}, false, nil
	}
	old, ok := p[key]
	if !ok {
		return Value{}, false, nil
	}
	delete(p, key)
	if len(p) == 0 {
		delete(s.data, offset)
	}
	return old, true, nil
}

func (s *MemoryStorage) Drop(offset model.PointOffset) (Payload, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.data[offset]
	if !ok {
		return nil, false, nil
	}
	delete(s.data, offset)
	return p, true, nil
}

func (s *MemoryStorage) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.data)
	return nil
}

// Flush is a no-op for the in-memory storage.
func (s *MemoryStorage) Flush() error { return nil }

func (s *MemoryStorage) Schema() Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schema := make(Schema)
	for _, p := range s.data {
		schema.Observe(p)
	}
	return schema
}

// IterIDs yields offsets in ascending order from a snapshot taken at call time.
func (s *MemoryStorage) IterIDs() iter.Seq[model.PointOffset] {
	return func(yield func(model.PointOffset) bool) {
		s.mu.RLock()
		ids := slices.Sorted(maps.Keys(s.data))
		s.mu.RUnlock()

		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}
}

func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
