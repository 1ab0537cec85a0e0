package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	deepgramAPI     = "https://api.deepgram.com"
	defaultTTL      = 60 * time.Second
	defaultComment  = "cuecard temporary key"
	maxErrorBodyLen = 512
)

// DeepgramOption configures a [DeepgramIssuer].
type DeepgramOption func(*DeepgramIssuer)

// WithTTL sets how long issued keys stay valid. Default: 60s.
func WithTTL(ttl time.Duration) DeepgramOption {
	return func(d *DeepgramIssuer) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithBaseURL overrides the Deepgram API base URL.
func WithBaseURL(base string) DeepgramOption {
	return func(d *DeepgramIssuer) {
		d.baseURL = base
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) DeepgramOption {
	return func(d *DeepgramIssuer) {
		d.client = c
	}
}

// WithComment sets the comment attached to issued keys.
func WithComment(comment string) DeepgramOption {
	return func(d *DeepgramIssuer) {
		d.comment = comment
	}
}

// DeepgramIssuer creates temporary Deepgram keys limited to streaming usage.
type DeepgramIssuer struct {
	apiKey    string
	projectID string
	baseURL   string
	ttl       time.Duration
	comment   string
	client    *http.Client
	now       func() time.Time
}

// Compile-time interface assertion.
var _ Issuer = (*DeepgramIssuer)(nil)

// NewDeepgramIssuer returns an issuer that creates keys in projectID,
// authorised by the long-lived apiKey.
func NewDeepgramIssuer(apiKey, projectID string, opts ...DeepgramOption) (*DeepgramIssuer, error) {
	if apiKey == "" {
		return nil, ErrNoKey
	}
	if projectID == "" {
		return nil, errors.New("credential: deepgram project id must not be empty")
	}
	d := &DeepgramIssuer{
		apiKey:    apiKey,
		projectID: projectID,
		baseURL:   deepgramAPI,
		ttl:       defaultTTL,
		comment:   defaultComment,
		client:    &http.Client{Timeout: 10 * time.Second},
		now:       time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

type createKeyRequest struct {
	Comment    string   `json:"comment"`
	Scopes     []string `json:"scopes"`
	TTLSeconds int      `json:"time_to_live_in_seconds"`
}

type createKeyResponse struct {
	Key            string `json:"key"`
	ExpirationDate string `json:"expiration_date"`
}

// Issue creates a new temporary key.
func (d *DeepgramIssuer) Issue(ctx context.Context) (Credential, error) {
	body, err := json.Marshal(createKeyRequest{
		Comment:    d.comment,
		Scopes:     []string{"usage:write"},
		TTLSeconds: int(d.ttl / time.Second),
	})
	if err != nil {
		return Credential{}, fmt.Errorf("credential: encode request: %w", err)
	}

	endpoint := d.baseURL + "/v1/projects/" + url.PathEscape(d.projectID) + "/keys"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Credential{}, fmt.Errorf("credential: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	issued := d.now()
	resp, err := d.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("credential: create deepgram key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return Credential{}, fmt.Errorf("credential: create deepgram key: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out createKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Credential{}, fmt.Errorf("credential: decode response: %w", err)
	}
	if out.Key == "" {
		return Credential{}, errors.New("credential: deepgram returned no key")
	}

	expires := issued.Add(d.ttl)
	if t, err := time.Parse(time.RFC3339, out.ExpirationDate); err == nil && t.Before(expires) {
		expires = t
	}
	return Credential{Token: out.Key, ExpiresAt: expires}, nil
}
