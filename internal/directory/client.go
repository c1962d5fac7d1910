package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	kerrors "github.com/PolarWolf314/muna/internal/errors"
	"github.com/PolarWolf314/muna/internal/retry"
)

// Client is a Backend served by a muna directory server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryPolicy sets the policy for transient failures.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(c *Client) {
		c.policy = p
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient returns a Client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid directory url %q", kerrors.ErrInvalidConfig, baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		policy:     retry.DefaultPolicy(),
		userAgent:  "muna",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StatusError is a non-success response from the directory server.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("directory returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("directory returned %d", e.StatusCode)
}

// Is maps status codes onto the sentinel errors callers match on.
func (e *StatusError) Is(target error) bool {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return target == kerrors.ErrNotFound
	case e.StatusCode == http.StatusConflict:
		return target == kerrors.ErrVersionConflict
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return target == kerrors.ErrDirectoryOrStoreFailure
	case e.StatusCode == http.StatusBadRequest:
		return target == kerrors.ErrInvalidEnvelope
	}
	return false
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		payload = data
	}

	return c.policy.Do(ctx, func() error {
		return c.once(ctx, method, path, payload, result)
	})
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, result any) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", kerrors.ErrDirectoryOrStoreFailure, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp)
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: decoding response: %v", kerrors.ErrDirectoryOrStoreFailure, err)
	}
	return nil
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

func keyPath(userID string, rest ...string) string {
	p := "/v1/keys/" + url.PathEscape(userID)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func conversationPath(conversationID string, rest ...string) string {
	p := "/v1/conversations/" + url.PathEscape(conversationID)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) Publish(ctx context.Context, userID string, publicKey []byte, suite string) (int, error) {
	var resp PublishResponse
	err := c.do(ctx, http.MethodPost, keyPath(userID), PublishRequest{PublicKey: publicKey, Suite: suite}, &resp)
	if err != nil {
		return 0, fmt.Errorf("publishing key for %s: %w", userID, err)
	}
	return resp.Version, nil
}

func (c *Client) Fetch(ctx context.Context, userID string) (PublishedKey, error) {
	var key PublishedKey
	if err := c.do(ctx, http.MethodGet, keyPath(userID), nil, &key); err != nil {
		return PublishedKey{}, fmt.Errorf("fetching key for %s: %w", userID, err)
	}
	return key, nil
}

func (c *Client) FetchVersion(ctx context.Context, userID string, version int) (PublishedKey, error) {
	var key PublishedKey
	if err := c.do(ctx, http.MethodGet, keyPath(userID, strconv.Itoa(version)), nil, &key); err != nil {
		return PublishedKey{}, fmt.Errorf("fetching key version %d for %s: %w", version, userID, err)
	}
	return key, nil
}

func (c *Client) Deactivate(ctx context.Context, userID string, belowVersion int) error {
	err := c.do(ctx, http.MethodPost, keyPath(userID, "deactivate"), DeactivateRequest{BelowVersion: belowVersion}, nil)
	if err != nil {
		return fmt.Errorf("deactivating keys for %s: %w", userID, err)
	}
	return nil
}

func (c *Client) Upsert(ctx context.Context, rec ConversationKeyRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	path := conversationPath(rec.ConversationID, "keys", url.PathEscape(rec.UserID), strconv.Itoa(rec.Epoch))
	if err := c.do(ctx, http.MethodPut, path, rec, nil); err != nil {
		return fmt.Errorf("storing epoch %d key for %s: %w", rec.Epoch, rec.UserID, err)
	}
	return nil
}

func (c *Client) FetchLatest(ctx context.Context, conversationID, userID string) (ConversationKeyRecord, error) {
	var rec ConversationKeyRecord
	path := conversationPath(conversationID, "keys", url.PathEscape(userID))
	if err := c.do(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return ConversationKeyRecord{}, fmt.Errorf("fetching conversation key for %s: %w", userID, err)
	}
	return rec, nil
}

func (c *Client) FetchEpoch(ctx context.Context, conversationID, userID string, epoch int) (ConversationKeyRecord, error) {
	var rec ConversationKeyRecord
	path := conversationPath(conversationID, "keys", url.PathEscape(userID), strconv.Itoa(epoch))
	if err := c.do(ctx, http.MethodGet, path, nil, &rec); err != nil {
		return ConversationKeyRecord{}, fmt.Errorf("fetching epoch %d key for %s: %w", epoch, userID, err)
	}
	return rec, nil
}

func (c *Client) LatestEpoch(ctx context.Context, conversationID string) (int, error) {
	var resp LatestEpochResponse
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID, "epochs", "latest"), nil, &resp); err != nil {
		return 0, fmt.Errorf("fetching latest epoch of %s: %w", conversationID, err)
	}
	return resp.Epoch, nil
}

func (c *Client) ListEpoch(ctx context.Context, conversationID string, epoch int) ([]ConversationKeyRecord, error) {
	var recs []ConversationKeyRecord
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID, "epochs", strconv.Itoa(epoch)), nil, &recs); err != nil {
		return nil, fmt.Errorf("listing epoch %d of %s: %w", epoch, conversationID, err)
	}
	return recs, nil
}

func (c *Client) Members(ctx context.Context, conversationID string) ([]string, error) {
	var doc MembersDocument
	err := c.do(ctx, http.MethodGet, conversationPath(conversationID, "members"), nil, &doc)
	if errors.Is(err, kerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching members of %s: %w", conversationID, err)
	}
	return doc.Members, nil
}

func (c *Client) SetMembers(ctx context.Context, conversationID string, members []string) error {
	normalized, err := NormalizeMembers(members)
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPut, conversationPath(conversationID, "members"), MembersDocument{Members: normalized}, nil); err != nil {
		return fmt.Errorf("updating members of %s: %w", conversationID, err)
	}
	return nil
}

var _ Backend = (*Client)(nil)
