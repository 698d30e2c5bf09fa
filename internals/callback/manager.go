package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
	"github.com/rs/zerolog"
)

const DefaultPseudonymTimeout = 10 * time.Minute

// Manager holds the pseudonyms the Mainzelliste posts back in callback mode.
// Clients only know the token id of their patients then, so the tokens are
// exchanged for the real pseudonyms before the application sees the data
// and back afterwards.
type Manager struct {
	store   Store
	timeout time.Duration
	logger  zerolog.Logger
}

func NewManager(store Store, timeout time.Duration, logger zerolog.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultPseudonymTimeout
	}
	return &Manager{store: store, timeout: timeout, logger: logger}
}

type callbackBody struct {
	TokenID string      `json:"tokenId"`
	ID      string      `json:"id"`
	IDs     []models.ID `json:"ids"`
}

// PutCallback stores the pseudonym of a callback request of the
// Mainzelliste. Both the old {tokenId, id} and the newer {tokenId, ids}
// layout are accepted.
func (m *Manager) PutCallback(ctx context.Context, body []byte) error {
	var data callbackBody
	if err := json.Unmarshal(body, &data); err != nil {
		return fmt.Errorf("invalid callback body: %w", err)
	}
	if data.TokenID == "" {
		return errors.New("invalid callback body: no tokenId")
	}
	pseudonym := data.ID
	if pseudonym == "" && len(data.IDs) > 0 {
		pseudonym = data.IDs[0].IDString
	}
	if pseudonym == "" {
		return errors.New("invalid callback body: no pseudonym")
	}
	return m.Put(ctx, data.TokenID, pseudonym)
}

func (m *Manager) Put(ctx context.Context, token string, pseudonym string) error {
	m.logger.Debug().Str("token", token).Msg("storing pseudonym")
	return m.store.Put(ctx, token, pseudonym, m.timeout)
}

// ProcessPatients calls process with the given entries. In callback mode
// the pseudonyms of the entries are tokens: they are replaced by the stored
// pseudonyms before process is called and the result is keyed by token
// again. Entries without a stored pseudonym are left out.
func (m *Manager) ProcessPatients(ctx context.Context, entries []models.SendEntry, useCallback bool,
	process func(context.Context, []models.SendEntry) (models.SendResult, error)) (models.SendResult, error) {
	if !useCallback {
		return process(ctx, entries)
	}

	tokens := map[string]string{}
	resolved := make([]models.SendEntry, 0, len(entries))
	for _, entry := range entries {
		pseudonym, err := m.take(ctx, entry.Pseudonym)
		if err != nil {
			return nil, err
		}
		if pseudonym == "" {
			continue
		}
		tokens[pseudonym] = entry.Pseudonym
		entry.Pseudonym = pseudonym
		resolved = append(resolved, entry)
	}

	intermediate, err := process(ctx, resolved)
	if err != nil {
		return nil, err
	}
	result := models.SendResult{}
	for pseudonym, success := range intermediate {
		if token, ok := tokens[pseudonym]; ok {
			result[token] = success
		}
	}
	return result, nil
}

// ProcessRequest is the counterpart of ProcessPatients for requests.
func (m *Manager) ProcessRequest(ctx context.Context, ids []string, useCallback bool,
	process func(context.Context, []string) ([]models.RequestEntry, error)) ([]models.RequestEntry, error) {
	if !useCallback {
		return process(ctx, ids)
	}

	tokens := map[string]string{}
	pseudonyms := make([]string, 0, len(ids))
	for _, token := range ids {
		pseudonym, err := m.take(ctx, token)
		if err != nil {
			return nil, err
		}
		if pseudonym == "" {
			continue
		}
		tokens[pseudonym] = token
		pseudonyms = append(pseudonyms, pseudonym)
	}

	entries, err := process(ctx, pseudonyms)
	if err != nil {
		return nil, err
	}
	result := make([]models.RequestEntry, 0, len(entries))
	for _, entry := range entries {
		if token, ok := tokens[entry.Pseudonym]; ok {
			entry.Pseudonym = token
			result = append(result, entry)
		}
	}
	return result, nil
}

// take returns an empty pseudonym for unknown tokens.
func (m *Manager) take(ctx context.Context, token string) (string, error) {
	pseudonym, err := m.store.Take(ctx, token)
	if errors.Is(err, ErrMiss) {
		m.logger.Debug().Str("token", token).Msg("no pseudonym found for token")
		return "", nil
	}
	return pseudonym, err
}
