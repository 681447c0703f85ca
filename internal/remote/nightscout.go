package remote

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/loopkit/nightscoutservice/internal/common"
	"github.com/loopkit/nightscoutservice/internal/logging"
	"github.com/loopkit/nightscoutservice/internal/models"
)

const (
	DefaultTimeout = 30 * time.Second

	apiPrefix    = "api/v1"
	maxErrorBody = 512
)

// NightscoutClient implements Client over the Nightscout v1 REST API.
type NightscoutClient struct {
	base       *url.URL
	secretHash string
	http       *http.Client
	logger     logging.Logger
}

var _ Client = (*NightscoutClient)(nil)

type Option func(*NightscoutClient)

// WithHTTPClient replaces the default client (which has DefaultTimeout).
func WithHTTPClient(c *http.Client) Option { return func(n *NightscoutClient) { n.http = c } }

func WithTimeout(d time.Duration) Option {
	return func(n *NightscoutClient) { n.http = &http.Client{Timeout: d} }
}

func WithLogger(l logging.Logger) Option { return func(n *NightscoutClient) { n.logger = l } }

// NewNightscoutClient returns a client for the site at siteURL.
// common.ErrMissingCredentials is returned when either argument is empty.
func NewNightscoutClient(siteURL, apiSecret string, opts ...Option) (*NightscoutClient, error) {
	if siteURL == "" || apiSecret == "" {
		return nil, common.ErrMissingCredentials
	}
	base, err := url.Parse(siteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid site url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid site url %q: expected http(s)://host", siteURL)
	}

	sum := sha1.Sum([]byte(apiSecret))
	c := &NightscoutClient{
		base:       base,
		secretHash: hex.EncodeToString(sum[:]),
		http:       &http.Client{Timeout: DefaultTimeout},
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type createdDocument struct {
	ID string `json:"_id"`
}

func (c *NightscoutClient) CreateRecords(ctx context.Context, coll Collection, payloads []any) ([]string, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, c.endpoint(string(coll)+".json"), payloads, &raw); err != nil {
		return nil, err
	}

	// Older servers answer a single-document post with an object.
	var docs []createdDocument
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var doc createdDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s create response: %w", coll, err)
		}
		docs = []createdDocument{doc}
	} else if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("decode %s create response: %w", coll, err)
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	c.logger.Debug(ctx, "created records", "collection", coll, "count", len(ids))
	return ids, nil
}

func (c *NightscoutClient) UpdateRecords(ctx context.Context, coll Collection, payloads []any) error {
	for _, p := range payloads {
		if err := c.do(ctx, http.MethodPut, c.endpoint(string(coll)+".json"), p, nil); err != nil {
			return err
		}
	}
	c.logger.Debug(ctx, "updated records", "collection", coll, "count", len(payloads))
	return nil
}

func (c *NightscoutClient) DeleteRecords(ctx context.Context, coll Collection, ids []string) error {
	for _, id := range ids {
		if err := c.do(ctx, http.MethodDelete, c.endpoint(string(coll), url.PathEscape(id)), nil, nil); err != nil {
			return err
		}
	}
	c.logger.Debug(ctx, "deleted records", "collection", coll, "count", len(ids))
	return nil
}

func (c *NightscoutClient) CheckAuth(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.endpoint("experiments", "test"), nil, nil)
}

func (c *NightscoutClient) FetchCurrentProfile(ctx context.Context) (*models.ProfileSet, error) {
	var ps models.ProfileSet
	if err := c.do(ctx, http.MethodGet, c.endpoint("profile", "current"), nil, &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

func (c *NightscoutClient) endpoint(elem ...string) *url.URL {
	return c.base.JoinPath(append([]string{apiPrefix}, elem...)...)
}

func (c *NightscoutClient) do(ctx context.Context, method string, u *url.URL, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set(common.APISecretHeaderName, c.secretHash)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s: status %d", ErrUnavailable, method, u.Path, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("nightscout: %s %s: status %d: %s", method, u.Path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, u.Path, err)
	}
	return nil
}
