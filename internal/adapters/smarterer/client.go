// Package smarterer is a client for the Smarterer assessment API: badge
// lookups and the OAuth authorization-code flow.
package smarterer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/okian/badgeboard/internal/domain/model"
	"github.com/okian/badgeboard/pkg/logger"
	"github.com/okian/badgeboard/pkg/metrics"
)

// Default endpoints and limits.
const (
	DefaultAPIBaseURL   = "https://smarterer.com/api/"
	DefaultOAuthBaseURL = "https://smarterer.com/oauth"
	DefaultTimeout      = 10 * time.Second

	maxBodyBytes = 1 << 20
)

// Operation names used in errors and metrics.
const (
	OpBadges        = "badges"
	OpUserBadges    = "user_badges"
	OpExchangeToken = "access_token"
)

// Client issues calls to the assessment API. It never retries; callers own
// the retry policy.
type Client struct {
	apiBase      string
	oauthBase    string
	clientID     string
	clientSecret string
	timeout      time.Duration
	insecure     bool
	http         *http.Client
	logger       logger.Logger
}

// New constructs a Client.
func New(opts ...Option) *Client {
	c := &Client{
		apiBase:   DefaultAPIBaseURL,
		oauthBase: DefaultOAuthBaseURL,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{}
		if c.insecure {
			c.http.Transport = &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in, mirrors verify=False deployments
			}
		}
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("smarterer")
	}
	return c
}

// Badges fetches the badges owned by the holder of accessToken, optionally
// narrowed to testIDs. An empty token sends only the client id.
func (c *Client) Badges(ctx context.Context, accessToken string, testIDs ...string) (model.BadgesResponse, error) {
	endpoint, err := url.JoinPath(c.apiBase, "badges")
	if err != nil {
		return model.BadgesResponse{}, &RemoteAPIError{Op: OpBadges, Err: err}
	}
	q := c.authQuery(accessToken)
	if tests := joinTests(testIDs); tests != "" {
		q.Set("tests", tests)
	}
	return c.fetchBadges(ctx, OpBadges, endpoint, q)
}

// UserBadges fetches the public badges of username using only the client id.
func (c *Client) UserBadges(ctx context.Context, username string, testIDs ...string) (model.BadgesResponse, error) {
	endpoint, err := url.JoinPath(c.apiBase, "badges", username)
	if err != nil {
		return model.BadgesResponse{}, &RemoteAPIError{Op: OpUserBadges, Err: err}
	}
	q := c.authQuery("")
	if tests := joinTests(testIDs); tests != "" {
		q.Set("tests", tests)
	}
	return c.fetchBadges(ctx, OpUserBadges, endpoint, q)
}

// AuthorizeURL returns the page users visit to grant this application access.
func (c *Client) AuthorizeURL() string {
	endpoint, err := url.JoinPath(c.oauthBase, "authorize")
	if err != nil {
		endpoint = strings.TrimRight(c.oauthBase, "/") + "/authorize"
	}
	q := url.Values{}
	q.Set("client_id", c.clientID)
	return endpoint + "?" + q.Encode()
}

// ExchangeCode trades a one-time authorization code for a durable access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	endpoint, err := url.JoinPath(c.oauthBase, "access_token")
	if err != nil {
		return "", &RemoteAPIError{Op: OpExchangeToken, Err: err}
	}
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("client_secret", c.clientSecret)
	q.Set("code", code)
	q.Set("grant_type", "authorization_code")

	body, status, err := c.get(ctx, OpExchangeToken, endpoint, q)
	if err != nil {
		return "", err
	}

	var reply struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", &RemoteAPIError{Op: OpExchangeToken, StatusCode: status, Body: body, Err: fmt.Errorf("%w: %w", ErrMalformedReply, err)}
	}
	if reply.AccessToken == "" {
		return "", &RemoteAPIError{Op: OpExchangeToken, StatusCode: status, Body: body, Err: fmt.Errorf("%w: missing access_token", ErrMalformedReply)}
	}
	return reply.AccessToken, nil
}

func (c *Client) fetchBadges(ctx context.Context, op, endpoint string, q url.Values) (model.BadgesResponse, error) {
	body, status, err := c.get(ctx, op, endpoint, q)
	if err != nil {
		return model.BadgesResponse{}, err
	}

	var reply struct {
		Badges *[]model.BadgeEntry `json:"badges"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return model.BadgesResponse{}, &RemoteAPIError{Op: op, StatusCode: status, Body: body, Err: fmt.Errorf("%w: %w", ErrMalformedReply, err)}
	}
	if reply.Badges == nil {
		return model.BadgesResponse{}, &RemoteAPIError{Op: op, StatusCode: status, Body: body, Err: fmt.Errorf("%w: missing badges", ErrMalformedReply)}
	}
	return model.BadgesResponse{Badges: *reply.Badges}, nil
}

// get performs a GET and returns the body of a 200 reply.
func (c *Client) get(ctx context.Context, op, endpoint string, q url.Values) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := endpoint
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, &RemoteAPIError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordRemoteRequest(op, "0", float64(time.Since(start).Milliseconds()))
		c.logger.Warn(ctx, "remote request failed", logger.String("op", op), logger.Error(err))
		return nil, 0, &RemoteAPIError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	metrics.RecordRemoteRequest(op, strconv.Itoa(resp.StatusCode), float64(time.Since(start).Milliseconds()))
	if err != nil {
		return nil, 0, &RemoteAPIError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug(ctx, "remote returned non-ok status",
			logger.String("op", op),
			logger.Int("status", resp.StatusCode),
		)
		return nil, resp.StatusCode, &RemoteAPIError{Op: op, StatusCode: resp.StatusCode, Body: bytes.Clone(body)}
	}
	return body, resp.StatusCode, nil
}

func (c *Client) authQuery(accessToken string) url.Values {
	q := url.Values{}
	if c.clientID != "" {
		q.Set("client_id", c.clientID)
	}
	if accessToken != "" {
		q.Set("access_token", accessToken)
	}
	return q
}

func joinTests(testIDs []string) string {
	parts := make([]string, 0, len(testIDs))
	for _, id := range testIDs {
		if id = strings.TrimSpace(id); id != "" {
			parts = append(parts, id)
		}
	}
	return strings.Join(parts, ",")
}
