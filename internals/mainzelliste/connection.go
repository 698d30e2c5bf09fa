package mainzelliste

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	APIKeyHeader     = "mainzellisteApiKey"
	APIVersionHeader = "mainzellisteApiVersion"

	DefaultTimeout = 30 * time.Second
)

// Connection holds everything needed to talk to a Mainzelliste instance and
// manages sessions on it.
type Connection struct {
	URL        string
	APIKey     string
	APIVersion string
	// CallbackURL receives the pseudonyms if UseCallback is set.
	CallbackURL string
	UseCallback bool

	client *resty.Client
	logger zerolog.Logger
}

func NewConnection(url, apiKey, apiVersion string, logger zerolog.Logger) *Connection {
	url = strings.TrimRight(url, "/")
	c := &Connection{
		URL:        url,
		APIKey:     apiKey,
		APIVersion: apiVersion,
		logger:     logger,
	}
	c.client = c.configure(resty.New())
	return c
}

func (c *Connection) configure(client *resty.Client) *resty.Client {
	return client.
		SetBaseURL(c.URL).
		SetTimeout(DefaultTimeout).
		SetHeader("Accept", "application/json").
		SetHeader(APIVersionHeader, c.APIVersion)
}

// WithCallback enables the callback function of the Mainzelliste. Tokens
// created afterwards make the Mainzelliste post the pseudonym to callbackURL.
func (c *Connection) WithCallback(callbackURL string) *Connection {
	c.CallbackURL = callbackURL
	c.UseCallback = true
	return c
}

// SetHTTPClient replaces the transport, e.g. for tests.
func (c *Connection) SetHTTPClient(httpClient *http.Client) {
	c.client = c.configure(resty.NewWithClient(httpClient))
}

// CreateSession opens a new session on the Mainzelliste.
func (c *Connection) CreateSession(ctx context.Context) (*Session, error) {
	c.logger.Debug().Msg("creating new session")

	var result struct {
		SessionID string `json:"sessionId"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader(APIKeyHeader, c.APIKey).
		Post("/sessions")
	if err != nil {
		c.logger.Error().Err(err).Msg("error while connecting to the Mainzelliste")
		return nil, &ConnectionError{Err: err}
	}
	if !resp.IsSuccess() {
		return nil, &RuntimeError{StatusCode: resp.StatusCode(), Message: string(resp.Body())}
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil || result.SessionID == "" {
		return nil, &RuntimeError{StatusCode: resp.StatusCode(), Message: fmt.Sprintf("no session id in response: %s", resp.Body())}
	}

	c.logger.Debug().Str("session_id", result.SessionID).Msg("session created")
	return &Session{conn: c, ID: result.SessionID}, nil
}

// GetSession returns the session object of the Mainzelliste, or nil if the
// session does not exist anymore.
func (c *Connection) GetSession(ctx context.Context, session *Session) (map[string]any, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader(APIKeyHeader, c.APIKey).
		Get(session.path())
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, nil
	}
	var result map[string]any
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, &RuntimeError{StatusCode: resp.StatusCode(), Message: err.Error()}
	}
	return result, nil
}

func (c *Connection) DeleteSession(ctx context.Context, session *Session) error {
	c.logger.Debug().Str("session_id", session.ID).Msg("deleting session")

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader(APIKeyHeader, c.APIKey).
		Delete(session.path())
	if err != nil {
		return &ConnectionError{Err: err}
	}
	if resp.StatusCode() != http.StatusNoContent {
		return &RuntimeError{StatusCode: resp.StatusCode(), Message: fmt.Sprintf("error while deleting session %s", session.ID)}
	}
	return nil
}

// TokenURL is the URL a client posts the IDAT to, or reads patients from.
func (c *Connection) TokenURL(tokenID string) string {
	return c.URL + "/patients?tokenId=" + tokenID
}
