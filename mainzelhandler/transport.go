package mainzelhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
)

// send stores the MDAT of the given pseudonymized patients in the backend.
func (h *Handler) send(ctx context.Context, store *models.Store, keys []models.Key) error {
	if len(keys) == 0 {
		return nil
	}

	entries := make([]models.SendEntry, 0, len(keys))
	for _, key := range keys {
		patient, _ := store.Get(key)
		entries = append(entries, models.SendEntry{Pseudonym: patient.Pseudonym, MDAT: patient.MDAT, Tentative: patient.Tentative})
	}

	var result models.SendResult
	if err := h.Client.PostAndParse(ctx, models.PatientSendURL, entries, &result); err != nil {
		return fmt.Errorf("cannot send patients: %w", err)
	}

	processed := 0
	for _, key := range keys {
		patient, _ := store.Get(key)
		success := result[patient.Pseudonym]
		patient.Processed(success)
		if success {
			processed++
		}
	}
	h.logger.Info().Int("sent", len(keys)).Int("processed", processed).Msg("patients sent")
	return nil
}

// request loads the MDAT of the given pseudonymized patients from the
// backend.
func (h *Handler) request(ctx context.Context, store *models.Store, keys []models.Key) error {
	if len(keys) == 0 {
		return nil
	}

	pseudonyms := make([]string, 0, len(keys))
	for _, key := range keys {
		patient, _ := store.Get(key)
		pseudonyms = append(pseudonyms, patient.Pseudonym)
	}

	var raw json.RawMessage
	if err := h.Client.PostAndParse(ctx, models.PatientRequestURL, pseudonyms, &raw); err != nil {
		return fmt.Errorf("cannot request patients: %w", err)
	}
	mdat, err := parseRequestResponse(raw)
	if err != nil {
		return err
	}

	found := 0
	for _, key := range keys {
		patient, _ := store.Get(key)
		if data, ok := mdat[patient.Pseudonym]; ok {
			patient.Found(data)
			found++
		} else {
			patient.NotFound()
		}
	}
	h.logger.Info().Int("requested", len(keys)).Int("found", found).Msg("patients requested")
	return nil
}

// parseRequestResponse accepts the list form [{pseudonym, mdat}] as well as
// a plain pseudonym -> mdat object.
func parseRequestResponse(raw json.RawMessage) (map[string]string, error) {
	var entries []models.RequestEntry
	if err := json.Unmarshal(raw, &entries); err == nil {
		mdat := make(map[string]string, len(entries))
		for _, entry := range entries {
			mdat[entry.Pseudonym] = entry.MDAT
		}
		return mdat, nil
	}
	var mdat map[string]string
	if err := json.Unmarshal(raw, &mdat); err != nil {
		return nil, fmt.Errorf("cannot parse the response of %s: %w", models.PatientRequestURL, err)
	}
	return mdat, nil
}
