package smarterer

import (
	"net/http"
	"time"

	"github.com/okian/badgeboard/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithBaseURLs overrides the API and OAuth roots.
func WithBaseURLs(apiBase, oauthBase string) Option {
	return func(c *Client) {
		if apiBase != "" {
			c.apiBase = apiBase
		}
		if oauthBase != "" {
			c.oauthBase = oauthBase
		}
	}
}

// WithClientCredentials sets the OAuth application id and secret.
func WithClientCredentials(clientID, clientSecret string) Option {
	return func(c *Client) {
		c.clientID = clientID
		c.clientSecret = clientSecret
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) { c.insecure = skip }
}

// WithLogger sets a custom logger for the client.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
