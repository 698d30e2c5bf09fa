package mainzelhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/GyroTools/mainzelhandler-connector-go/internals/utils"
	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
)

// CreatePseudonyms pseudonymizes the given patients without sending or
// requesting any MDAT. Patients that already have a pseudonym are counted
// as pseudonymized.
func (h *Handler) CreatePseudonyms(ctx context.Context, store *models.Store, keys []models.Key) (*models.PseudonymizationResult, error) {
	pseudonymized, err := h.handlePseudonymization(ctx, store, keys, false)
	if err != nil {
		return nil, err
	}
	keys, err = h.resolveKeys(store, keys)
	if err != nil {
		return nil, err
	}
	return &models.PseudonymizationResult{
		Pseudonymized: pseudonymized,
		Conflicts:     store.Filter(keys, models.StatusIDATConflict, models.StatusIDATInvalid, models.StatusTokenInvalid),
	}, nil
}

// resolveKeys dedupes keys and checks that every key is in the store. nil
// selects every patient.
func (h *Handler) resolveKeys(store *models.Store, keys []models.Key) ([]models.Key, error) {
	if keys == nil {
		return store.Keys(), nil
	}
	keys = utils.Dedupe(keys)
	for _, key := range keys {
		if _, err := store.MustGet(key); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// handlePseudonymization brings the given patients into the state
// PSEUDONYMIZED where possible and returns the keys that made it, in input
// order. Patients that end in a conflict are left for the caller to correct.
func (h *Handler) handlePseudonymization(ctx context.Context, store *models.Store, keys []models.Key, retrySucceeded bool) ([]models.Key, error) {
	keys, err := h.resolveKeys(store, keys)
	if err != nil {
		return nil, err
	}

	var created, conflicted, pseudonymized []models.Key
	for _, key := range keys {
		patient, _ := store.Get(key)
		switch {
		case patient.Status == models.StatusCreated:
			created = append(created, key)
		case patient.Status.IsConflict():
			conflicted = append(conflicted, key)
		case patient.Status == models.StatusPseudonymized:
			pseudonymized = append(pseudonymized, key)
		case patient.Status.IsHandled() && retrySucceeded:
			// a callback pseudonym is bound to its token and must be fetched again
			if patient.UsesCallback() {
				created = append(created, key)
			} else {
				pseudonymized = append(pseudonymized, key)
			}
		}
	}

	fresh, err := h.createPseudonyms(ctx, store, created)
	if err != nil {
		return nil, err
	}
	resolved, err := h.resolveConflicts(ctx, store, conflicted)
	if err != nil {
		return nil, err
	}

	position := make(map[models.Key]int, len(keys))
	for i, key := range keys {
		position[key] = i
	}
	result := append(append(pseudonymized, fresh...), resolved...)
	sort.SliceStable(result, func(i, j int) bool {
		return position[result[i]] < position[result[j]]
	})

	h.logger.Debug().
		Int("requested", len(keys)).
		Int("pseudonymized", len(result)).
		Msg("pseudonymization finished")
	return result, nil
}

// createPseudonyms requests one token per patient and reconciles the
// patients one after another.
func (h *Handler) createPseudonyms(ctx context.Context, store *models.Store, keys []models.Key) ([]models.Key, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var tokens models.PseudonymizationURLResponse
	if err := h.Client.PostAndParse(ctx, models.AddPatientTokenURL, models.PseudonymizationURLRequest{Amount: len(keys)}, &tokens); err != nil {
		return nil, fmt.Errorf("cannot get pseudonymization tokens: %w", err)
	}
	if len(tokens.URLTokens) < len(keys) {
		return nil, fmt.Errorf("requested %d pseudonymization tokens but got %d", len(keys), len(tokens.URLTokens))
	}

	var pseudonymized []models.Key
	for i, key := range keys {
		patient, _ := store.Get(key)
		token := models.Token{URL: tokens.URLTokens[i], UseCallback: tokens.UseCallback}
		ok, err := h.reconcile(ctx, key, patient, token)
		if err != nil {
			return nil, err
		}
		if ok {
			pseudonymized = append(pseudonymized, key)
		}
	}
	return pseudonymized, nil
}

// resolveConflicts retries the reconciliation of conflicted patients with
// their stored token. Patients whose token is gone get a new one.
func (h *Handler) resolveConflicts(ctx context.Context, store *models.Store, keys []models.Key) ([]models.Key, error) {
	var pseudonymized, expired []models.Key
	for _, key := range keys {
		patient, _ := store.Get(key)
		if patient.Status == models.StatusTokenInvalid || patient.TokenURL == "" {
			expired = append(expired, key)
			continue
		}
		ok, err := h.reconcile(ctx, key, patient, patient.CurrentToken())
		if err != nil {
			return nil, err
		}
		if ok {
			pseudonymized = append(pseudonymized, key)
		}
	}

	renewed, err := h.createPseudonyms(ctx, store, expired)
	if err != nil {
		return nil, err
	}
	return append(pseudonymized, renewed...), nil
}

// reconcile posts the IDAT of one patient to the token URL and applies the
// answer of the Mainzelliste. It reports whether the patient is
// PSEUDONYMIZED afterwards. On error the patient is left untouched.
func (h *Handler) reconcile(ctx context.Context, key models.Key, patient *models.Patient, token models.Token) (bool, error) {
	form, err := h.schema.FormBody(patient.IDAT, patient.Sureness)
	if err != nil {
		return false, err
	}
	resp, err := h.Mainzelliste.PostForm(ctx, token.URL, form)
	if err != nil {
		return false, fmt.Errorf("cannot reach the Mainzelliste: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}

	log := h.logger.With().Str("key", key).Int("status_code", resp.StatusCode).Logger()
	switch resp.StatusCode {
	case http.StatusCreated:
		pseudonym, tentative, err := h.extractPseudonym(token, body)
		if err != nil {
			return false, err
		}
		patient.Pseudonymized(pseudonym, tentative, token)
		log.Debug().Bool("tentative", tentative).Msg("patient pseudonymized")
		return true, nil
	case http.StatusBadRequest:
		patient.Rejected(models.StatusIDATInvalid, token)
		log.Warn().Str("response", strings.TrimSpace(string(body))).Msg("idat rejected by the Mainzelliste")
	case http.StatusUnauthorized:
		patient.TokenExpired()
		log.Warn().Msg("token expired")
	case http.StatusConflict:
		patient.Rejected(models.StatusIDATConflict, token)
		log.Warn().Msg("idat conflicts with an existing patient")
	default:
		return false, &models.ProtocolError{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return false, nil
}

func (h *Handler) extractPseudonym(token models.Token, body []byte) (string, bool, error) {
	var result models.AddPatientResult
	if token.UseCallback {
		// the real pseudonym only reaches the backend through the callback
		if err := json.Unmarshal(body, &result); err != nil {
			h.logger.Debug().Err(err).Msg("cannot parse the tentative flag, assuming false")
		}
		tokenID := token.ID()
		if tokenID == "" {
			return "", false, fmt.Errorf("token url \"%s\" has no tokenId", token.URL)
		}
		return tokenID, result.Tentative, nil
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", false, err
	}
	pseudonym := result.Pseudonym(h.apiVersion)
	if pseudonym == "" {
		return "", false, errors.New("the Mainzelliste returned no pseudonym")
	}
	return pseudonym, result.Tentative, nil
}
