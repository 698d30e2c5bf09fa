package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout of zero leaves the timeout to the caller's context.
	DefaultTimeout = 0

	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded; charset=UTF-8"

	RequestIDHeader = "X-Request-ID"

	HealthURL = "health"
)

type Client struct {
	conn       Connection
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying http client, e.g. for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(url string, apiKey string, verifyCert bool, opts ...Option) *Client {
	connection := &ServerConnection{verifyCert: verifyCert, apiKey: apiKey, url: url}
	return newClient(connection, opts...)
}

func NewPasswordClient(url string, username string, password string, verifyCert bool, opts ...Option) *Client {
	connection := &ServerConnection{verifyCert: verifyCert, username: username, password: password, url: url}
	return newClient(connection, opts...)
}

// NewMainzellisteClient returns a client for the single use token URLs.
func NewMainzellisteClient(apiVersion string, verifyCert bool, opts ...Option) *Client {
	connection := &MainzellisteConnection{verifyCert: verifyCert, apiVersion: apiVersion}
	return newClient(connection, opts...)
}

func newClient(conn Connection, opts ...Option) *Client {
	client := &Client{conn: conn, timeout: DefaultTimeout, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Transport: transport(conn.verifyCertificate())}
	}
	return client
}

func transport(verifyCert bool) http.RoundTripper {
	if verifyCert {
		return http.DefaultTransport
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return t
}

func (client *Client) Ping(ctx context.Context) error {
	resp, err := client.Get(ctx, HealthURL, 5*time.Second)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.New(fmt.Sprintf("status code = %d", resp.StatusCode))
	}
	return nil
}

func (client *Client) GetAndParse(ctx context.Context, path string, target interface{}) error {
	resp, err := client.Get(ctx, path, -1)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return client.parseResponse(resp, target)
}

// PostAndParse sends payload as json and decodes the json response into target.
func (client *Client) PostAndParse(ctx context.Context, path string, payload interface{}, target interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := client.Post(ctx, path, ContentTypeJSON, bytes.NewReader(body), -1)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return client.parseResponse(resp, target)
}

func (client *Client) parseResponse(resp *http.Response, target interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProtocolError{URL: resp.Request.URL.String(), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("cannot parse the response of %s: %w", resp.Request.URL.String(), err)
	}
	return nil
}

// GetUrl joins path to the url of the connection. Absolute urls, like the
// token urls of the Mainzelliste, are returned unchanged.
func (client Client) GetUrl(path string) string {
	if parsed, err := url.Parse(path); err == nil && parsed.IsAbs() {
		return path
	}
	base := strings.TrimRight(client.conn.getUrl(), "/")
	return base + "/" + strings.TrimLeft(path, "/")
}

func (client *Client) Get(ctx context.Context, path string, timeout time.Duration) (*http.Response, error) {
	return client.do(ctx, http.MethodGet, path, "", nil, timeout)
}

func (client *Client) Post(ctx context.Context, path string, contentType string, body io.Reader, timeout time.Duration) (*http.Response, error) {
	return client.do(ctx, http.MethodPost, path, contentType, body, timeout)
}

// PostForm posts an already encoded form body. The response is returned
// as is since the status code carries the result of a reconciliation.
func (client *Client) PostForm(ctx context.Context, path string, form string) (*http.Response, error) {
	return client.Post(ctx, path, ContentTypeForm, strings.NewReader(form), -1)
}

func (client *Client) do(ctx context.Context, method string, path string, contentType string, body io.Reader, timeout time.Duration) (*http.Response, error) {
	if timeout == -1 {
		timeout = client.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		resp, err := client.send(ctx, method, path, contentType, body)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return client.send(ctx, method, path, contentType, body)
}

func (client *Client) send(ctx context.Context, method string, path string, contentType string, body io.Reader) (*http.Response, error) {
	url := client.GetUrl(path)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if auth := client.conn.auth(); auth != nil {
		req.Header.Set(auth.Key, auth.Value)
	}
	for key, value := range client.conn.headers() {
		req.Header.Set(key, value)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", ContentTypeJSON)
	requestID := uuid.New().String()
	req.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := client.httpClient.Do(req)
	if err != nil {
		client.logger.Debug().Err(err).Str("request_id", requestID).Str("method", method).Str("url", url).Msg("request failed")
		return nil, err
	}
	client.logger.Debug().
		Str("request_id", requestID).
		Str("method", method).
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("request")
	return resp, nil
}

// cancelBody releases the timeout context once the body has been consumed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
