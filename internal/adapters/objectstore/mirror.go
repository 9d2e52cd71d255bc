package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/okian/badgeboard/pkg/metrics"
)

const (
	defaultPrefix   = "badges"
	maxImageBytes   = 5 << 20
	defaultFetchTTL = 10 * time.Second
)

// Mirror copies remote badge images into an Uploader under a stable key
// per (test, user), so repeated syncs overwrite one object.
type Mirror struct {
	uploader Uploader
	http     *http.Client
	prefix   string
}

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

// WithPrefix sets the key prefix.
func WithPrefix(p string) MirrorOption {
	return func(m *Mirror) {
		if p = strings.Trim(p, "/"); p != "" {
			m.prefix = p
		}
	}
}

// WithFetchClient sets the client used to download source images.
func WithFetchClient(c *http.Client) MirrorOption {
	return func(m *Mirror) {
		if c != nil {
			m.http = c
		}
	}
}

// NewMirror returns a Mirror writing through uploader.
func NewMirror(uploader Uploader, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		uploader: uploader,
		http:     &http.Client{Timeout: defaultFetchTTL},
		prefix:   defaultPrefix,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mirror downloads sourceURL and stores it, returning the public URL of the copy.
func (m *Mirror) Mirror(ctx context.Context, username, testID, sourceURL string) (string, error) {
	data, contentType, err := m.fetch(ctx, sourceURL)
	if err != nil {
		metrics.RecordMirrorUpload("fetch_error")
		return "", err
	}

	key := m.Key(username, testID, sourceURL, contentType)
	res, err := m.uploader.Upload(ctx, key, contentType, bytes.NewReader(data))
	if err != nil {
		metrics.RecordMirrorUpload("upload_error")
		return "", err
	}
	metrics.RecordMirrorUpload("ok")
	return res.Location, nil
}

// Key returns the object key for a user's badge on a test.
func (m *Mirror) Key(username, testID, sourceURL, contentType string) string {
	return path.Join(m.prefix, url.PathEscape(testID), url.PathEscape(username)) + extension(sourceURL, contentType)
}

func (m *Mirror) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchImage, err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchImage, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: HTTP %d", ErrFetchImage, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchImage, err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("%w: image exceeds %d bytes", ErrFetchImage, maxImageBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err != nil || mt == "" {
		contentType = http.DetectContentType(data)
	} else {
		contentType = mt
	}
	return data, contentType, nil
}

func extension(sourceURL, contentType string) string {
	if u, err := url.Parse(sourceURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return strings.ToLower(ext)
		}
	}
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/svg+xml":
		return ".svg"
	}
	return ""
}
