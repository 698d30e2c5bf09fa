package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Key identifies a patient inside a Store. It is chosen by the application
// and never leaves the client.
type Key = string

// NewKey returns a random key for applications without keys of their own.
func NewKey() Key {
	return uuid.New().String()
}

// Store maps keys to patients and remembers the insertion order. It is not
// safe for concurrent use: a single caller owns it and the library assumes
// that no two calls work on overlapping keys at the same time.
type Store struct {
	patients map[Key]*Patient
	order    []Key
}

func NewStore() *Store {
	return &Store{patients: map[Key]*Patient{}}
}

// Set adds or replaces the patient stored under key.
func (s *Store) Set(key Key, patient *Patient) {
	if _, ok := s.patients[key]; !ok {
		s.order = append(s.order, key)
	}
	s.patients[key] = patient
}

// Add stores the patient under a new random key and returns the key.
func (s *Store) Add(patient *Patient) Key {
	key := NewKey()
	s.Set(key, patient)
	return key
}

func (s *Store) Get(key Key) (*Patient, bool) {
	p, ok := s.patients[key]
	return p, ok
}

// MustGet returns ErrUnknownPatient for keys that are not in the store.
func (s *Store) MustGet(key Key) (*Patient, error) {
	p, ok := s.patients[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPatient, key)
	}
	return p, nil
}

func (s *Store) Delete(key Key) {
	if _, ok := s.patients[key]; !ok {
		return
	}
	delete(s.patients, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Keys returns all keys in insertion order.
func (s *Store) Keys() []Key {
	keys := make([]Key, len(s.order))
	copy(keys, s.order)
	return keys
}

func (s *Store) Len() int {
	return len(s.order)
}

// Filter returns the keys of the patients with one of the given states. If
// keys is nil every patient of the store is considered. The store is not
// modified.
func (s *Store) Filter(keys []Key, states ...Status) []Key {
	if keys == nil {
		keys = s.order
	}
	result := []Key{}
	for _, key := range keys {
		p, ok := s.patients[key]
		if !ok {
			continue
		}
		for _, status := range states {
			if p.Status == status {
				result = append(result, key)
				break
			}
		}
	}
	return result
}
