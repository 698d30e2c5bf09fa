package mainzelhandler

import (
	"context"
	"fmt"

	"github.com/GyroTools/mainzelhandler-connector-go/internals/utils"
	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
)

func (h *Handler) depseudonymize(ctx context.Context, pseudonyms []string, resultFields []string) (*models.DepseudonymizationResult, error) {
	result := &models.DepseudonymizationResult{
		Depseudonymized: map[string]models.DepseudonymizedPatient{},
		Invalid:         []string{},
	}
	pseudonyms = utils.Dedupe(pseudonyms)
	if len(pseudonyms) == 0 {
		return result, nil
	}

	if len(resultFields) == 0 {
		resultFields = h.schema.Names()
	}
	for _, name := range resultFields {
		if _, ok := h.schema.Field(name); !ok {
			return nil, &models.ValidationError{Field: name, Reason: models.ReasonUnknown}
		}
	}

	var token models.DepseudonymizationURLResponse
	request := models.DepseudonymizationURLRequest{Pseudonyms: pseudonyms, ResultFields: resultFields}
	if err := h.Client.PostAndParse(ctx, models.ReadPatientsTokenURL, request, &token); err != nil {
		return nil, fmt.Errorf("cannot get depseudonymization token: %w", err)
	}

	if token.URL != "" {
		var entries []models.ReadPatientsEntry
		if err := h.Mainzelliste.GetAndParse(ctx, token.URL, &entries); err != nil {
			return nil, fmt.Errorf("cannot read patients: %w", err)
		}
		requested := make(map[string]bool, len(pseudonyms))
		for _, p := range pseudonyms {
			requested[p] = true
		}
		for _, entry := range entries {
			id, ok := matchID(entry.IDs, requested)
			if !ok {
				continue
			}
			idat, err := h.schema.FromWire(entry.Fields)
			if err != nil {
				return nil, err
			}
			result.Depseudonymized[id.IDString] = models.DepseudonymizedPatient{IDAT: idat, Tentative: id.Tentative}
		}
	}

	invalid := make(map[string]bool, len(token.InvalidPseudonyms))
	for _, p := range token.InvalidPseudonyms {
		invalid[p] = true
	}
	for _, p := range pseudonyms {
		if _, found := result.Depseudonymized[p]; found {
			continue
		}
		// pseudonyms neither returned nor reported are invalid as well
		result.Invalid = append(result.Invalid, p)
		if !invalid[p] {
			h.logger.Debug().Str("pseudonym", p).Msg("pseudonym missing in the Mainzelliste response")
		}
	}
	return result, nil
}

// matchID returns the id of an entry that was asked for. A patient may
// carry several ids of different types.
func matchID(ids []models.ID, requested map[string]bool) (models.ID, bool) {
	for _, id := range ids {
		if requested[id.IDString] {
			return id, true
		}
	}
	return models.ID{}, false
}
