package server

import (
	"context"
	"sync"

	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
)

// PatientRepository is the application behind the backend. It receives the
// MDAT of pseudonymized patients and hands it out again by pseudonym.
type PatientRepository interface {
	Accept(ctx context.Context, entries []models.SendEntry) (models.SendResult, error)
	Find(ctx context.Context, pseudonyms []string) ([]models.RequestEntry, error)
}

// MemoryRepository keeps the MDAT in memory. Sending a pseudonym again
// replaces its MDAT.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]models.SendEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: map[string]models.SendEntry{}}
}

func (r *MemoryRepository) Accept(_ context.Context, entries []models.SendEntry) (models.SendResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := models.SendResult{}
	for _, entry := range entries {
		if entry.Pseudonym == "" {
			continue
		}
		r.entries[entry.Pseudonym] = entry
		result[entry.Pseudonym] = true
	}
	return result, nil
}

func (r *MemoryRepository) Find(_ context.Context, pseudonyms []string) ([]models.RequestEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := []models.RequestEntry{}
	for _, pseudonym := range pseudonyms {
		if entry, ok := r.entries[pseudonym]; ok {
			result = append(result, models.RequestEntry{Pseudonym: pseudonym, MDAT: entry.MDAT, Tentative: entry.Tentative})
		}
	}
	return result, nil
}

func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
