package mainzelliste

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/GyroTools/mainzelhandler-connector-go/mainzelhandler/models"
)

const noPatientFound = "No patient found with provided"

type Session struct {
	ID   string
	conn *Connection
}

func (s *Session) path() string {
	return "/sessions/" + s.ID
}

// URL of the session on the Mainzelliste.
func (s *Session) URL() string {
	return s.conn.URL + s.path()
}

type searchID struct {
	IDType   string `json:"idType"`
	IDString string `json:"idString"`
}

type tokenRequest struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// CreateAddPatientTokens creates amount addPatient tokens and returns their
// URLs.
func (s *Session) CreateAddPatientTokens(ctx context.Context, amount int) (*models.PseudonymizationURLResponse, error) {
	s.conn.logger.Info().Int("amount", amount).Msg("requesting addPatient tokens")

	data := map[string]any{}
	if s.conn.UseCallback {
		data["callback"] = s.conn.CallbackURL
	}

	urls := make([]string, 0, amount)
	for i := 0; i < amount; i++ {
		tokenID, err := s.createToken(ctx, tokenRequest{Type: "addPatient", Data: data})
		if err != nil {
			return nil, err
		}
		urls = append(urls, s.conn.TokenURL(tokenID))
	}
	return &models.PseudonymizationURLResponse{UseCallback: s.conn.UseCallback, URLTokens: urls}, nil
}

// CreateReadPatientsToken creates one readPatients token for all valid
// pseudonyms. Pseudonyms unknown to the Mainzelliste are dropped one by one
// and returned as invalid, in the order they were given.
func (s *Session) CreateReadPatientsToken(ctx context.Context, pseudonyms []string, resultFields []string) (*models.DepseudonymizationURLResponse, error) {
	s.conn.logger.Info().Int("pseudonyms", len(pseudonyms)).Msg("requesting readPatients token")

	invalid := map[string]bool{}
	for _, p := range pseudonyms {
		if strings.TrimSpace(p) == "" {
			invalid[p] = true
		}
	}

	tokenID := ""
	for {
		searchIDs := []searchID{}
		for _, p := range pseudonyms {
			if !invalid[p] {
				searchIDs = append(searchIDs, searchID{IDType: "pid", IDString: p})
			}
		}
		if len(searchIDs) == 0 {
			break
		}

		request := tokenRequest{Type: "readPatients", Data: map[string]any{
			"searchIds":    searchIDs,
			"resultFields": resultFields,
			"resultIds":    []string{"pid"},
		}}
		id, err := s.createToken(ctx, request)
		if err == nil {
			tokenID = id
			break
		}
		pseudonym, ok := unknownPseudonym(err)
		if !ok || invalid[pseudonym] {
			return nil, err
		}
		invalid[pseudonym] = true
	}

	response := &models.DepseudonymizationURLResponse{InvalidPseudonyms: []string{}}
	for _, p := range pseudonyms {
		if invalid[p] {
			response.InvalidPseudonyms = append(response.InvalidPseudonyms, p)
		}
	}
	if tokenID != "" {
		response.URL = s.conn.TokenURL(tokenID)
	}
	s.conn.logger.Info().Int("valid", len(pseudonyms)-len(response.InvalidPseudonyms)).Msg("readPatients token created")
	return response, nil
}

// unknownPseudonym extracts the pseudonym from a "No patient found with
// provided pid 'X'" error.
func unknownPseudonym(err error) (string, bool) {
	runtimeErr, ok := err.(*RuntimeError)
	if !ok || !strings.Contains(runtimeErr.Message, noPatientFound) {
		return "", false
	}
	parts := strings.Split(runtimeErr.Message, "'")
	if len(parts) < 3 {
		return "", false
	}
	return parts[1], true
}

func (s *Session) createToken(ctx context.Context, request tokenRequest) (string, error) {
	resp, err := s.conn.client.R().
		SetContext(ctx).
		SetHeader(APIKeyHeader, s.conn.APIKey).
		SetHeader("Content-Type", "application/json").
		SetBody(request).
		Post(s.path() + "/tokens")
	if err != nil {
		s.conn.logger.Error().Err(err).Msg("error while connecting to the Mainzelliste")
		return "", &ConnectionError{Err: err}
	}
	if resp.StatusCode() != http.StatusCreated {
		s.conn.logger.Error().Int("status_code", resp.StatusCode()).Str("response", string(resp.Body())).Msg("token request rejected")
		return "", &RuntimeError{StatusCode: resp.StatusCode(), Message: strings.TrimSpace(string(resp.Body()))}
	}

	var token struct {
		ID      string `json:"id"`
		TokenID string `json:"tokenId"`
	}
	if err := json.Unmarshal(resp.Body(), &token); err != nil {
		return "", &RuntimeError{StatusCode: resp.StatusCode(), Message: err.Error()}
	}
	tokenID := token.ID
	if token.TokenID != "" && (s.conn.APIVersion == "1.0" || tokenID == "") {
		tokenID = token.TokenID
	}
	if tokenID == "" {
		return "", &RuntimeError{StatusCode: resp.StatusCode(), Message: "no token id in response"}
	}
	s.conn.logger.Debug().Str("token_id", tokenID).Msg("token created")
	return tokenID, nil
}
