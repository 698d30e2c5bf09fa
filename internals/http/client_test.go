package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestGetUrl(t *testing.T) {
	client := NewClient("https://example.org/app", "", true)
	assert.Equal(t, client.GetUrl("tokens/addPatient"), "https://example.org/app/tokens/addPatient")
	assert.Equal(t, client.GetUrl("/health"), "https://example.org/app/health")
	assert.Equal(t, client.GetUrl("https://ml.example.org/patients?tokenId=1"), "https://ml.example.org/patients?tokenId=1")
}

func TestAuthHeaders(t *testing.T) {
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.NilError(t, NewClient(server.URL, "secret", true).Ping(context.Background()))
	assert.Equal(t, headers.Get("Authorization"), "X-Mainzelhandler-Api-Key secret")
	assert.Assert(t, headers.Get(RequestIDHeader) != "")

	assert.NilError(t, NewPasswordClient(server.URL, "user", "pass", true).Ping(context.Background()))
	assert.Equal(t, headers.Get("Authorization"), "Basic dXNlcjpwYXNz")

	assert.NilError(t, NewClient(server.URL, "", true).Ping(context.Background()))
	assert.Equal(t, headers.Get("Authorization"), "")

	resp, err := NewMainzellisteClient("2.0", true).PostForm(context.Background(), server.URL+"/patients?tokenId=1", "a=b")
	assert.NilError(t, err)
	resp.Body.Close()
	assert.Equal(t, headers.Get("mainzellisteApiVersion"), "2.0")
	assert.Equal(t, headers.Get("Content-Type"), ContentTypeForm)
	assert.Equal(t, headers.Get("Authorization"), "")
}

func TestPostAndParse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/tokens/addPatient":
			assert.Equal(t, string(body), `{"amount":2}`)
			assert.Equal(t, r.Header.Get("Content-Type"), ContentTypeJSON)
			w.Write([]byte(`{"useCallback":true,"urlTokens":["a","b"]}`))
		case "/broken":
			w.Write([]byte(`{`))
		default:
			http.Error(w, "no such path", http.StatusNotFound)
		}
	}))
	defer server.Close()
	client := NewClient(server.URL, "", true)

	type tokenResponse struct {
		UseCallback bool     `json:"useCallback"`
		URLTokens   []string `json:"urlTokens"`
	}
	var tokens tokenResponse
	assert.NilError(t, client.PostAndParse(context.Background(), "tokens/addPatient", map[string]int{"amount": 2}, &tokens))
	assert.DeepEqual(t, tokens, tokenResponse{UseCallback: true, URLTokens: []string{"a", "b"}})

	err := client.PostAndParse(context.Background(), "missing", nil, &tokens)
	var protocolErr *ProtocolError
	assert.Assert(t, errors.As(err, &protocolErr))
	assert.Equal(t, protocolErr.StatusCode, http.StatusNotFound)
	assert.Equal(t, protocolErr.Body, "no such path")

	err = client.GetAndParse(context.Background(), "broken", &tokens)
	assert.ErrorContains(t, err, "cannot parse the response")
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, "", true, WithTimeout(50*time.Millisecond))
	err := client.GetAndParse(context.Background(), "slow", nil)
	assert.Assert(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPingStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := NewClient(server.URL, "", true).Ping(context.Background())
	assert.Error(t, err, "status code = 503")
}
