package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Batch is one upload request: partition name to documents.
type Batch struct {
	UserID string                       `json:"userId"`
	Data   map[string][]json.RawMessage `json:"data"`
}

// Count returns the number of documents in the batch.
func (b Batch) Count() int {
	n := 0
	for _, docs := range b.Data {
		n += len(docs)
	}
	return n
}

// Download is the server's view of the user's records.
type Download struct {
	Data map[string][]json.RawMessage `json:"data"`
}

// Transport moves batches to and from the sync server.
type Transport interface {
	Upload(ctx context.Context, batch Batch) error
	Download(ctx context.Context, userID string, since time.Time) (Download, error)
}

// StatusError is a non-2xx response from the sync server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sync server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("sync server returned %d: %s", e.StatusCode, e.Body)
}

// HTTPTransport talks JSON to the sync server with a bearer token.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTransport returns a transport for baseURL authenticating with token.
func NewHTTPTransport(baseURL, token string, timeout time.Duration) *HTTPTransport {
	base := &http.Client{Timeout: timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	client.Timeout = timeout
	return &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

func (t *HTTPTransport) Upload(ctx context.Context, batch Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode upload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sync/upload", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = t.do(req)
	return err
}

func (t *HTTPTransport) Download(ctx context.Context, userID string, since time.Time) (Download, error) {
	q := url.Values{}
	q.Set("userId", userID)
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/sync/download?"+q.Encode(), nil)
	if err != nil {
		return Download{}, fmt.Errorf("create download request: %w", err)
	}
	body, err := t.do(req)
	if err != nil {
		return Download{}, err
	}
	var out Download
	if err := json.Unmarshal(body, &out); err != nil {
		return Download{}, fmt.Errorf("decode download: %w", err)
	}
	return out, nil
}

func (t *HTTPTransport) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return body, nil
}
