package blobstore

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

	"meetscribe/internal/retry"
	"meetscribe/internal/services"
)

const (
	headerProtocol    = "X-Goog-Upload-Protocol"
	headerCommand     = "X-Goog-Upload-Command"
	headerOffset      = "X-Goog-Upload-Offset"
	headerStatus      = "X-Goog-Upload-Status"
	headerUploadURL   = "X-Goog-Upload-URL"
	headerContentType = "X-Goog-Upload-Header-Content-Type"
	headerContentLen  = "X-Goog-Upload-Header-Content-Length"

	defaultRequestTimeout = 60 * time.Second
	defaultUploadTimeout  = 10 * time.Minute
	maxErrorBody          = 4 << 10
)

// Config captures the connection settings for one bucket.
type Config struct {
	BaseURL string
	Bucket  string
	Token   string
	// RequestTimeout bounds control requests and individual chunk uploads.
	RequestTimeout time.Duration
	// UploadTimeout bounds a single-request upload including its metadata
	// lookup.
	UploadTimeout time.Duration
}

// Reference describes a stored object and how to retrieve it.
type Reference struct {
	Name        string
	Size        int64
	ContentType string
	URL         string
}

// Client issues requests against the blob store.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a blob store client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	client := &Client{cfg: cfg, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Start opens a resumable upload session for name. Failures are reported as
// *services.SessionInitError.
func (c *Client) Start(ctx context.Context, name, contentType string) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &services.SessionInitError{Name: name, Err: services.Wrap(services.ErrValidation, "blobstore", "start", "object name required", nil)}
	}
	meta, err := json.Marshal(map[string]string{"name": name, "contentType": contentType})
	if err != nil {
		return nil, &services.SessionInitError{Name: name, Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.uploadURL(name), bytes.NewReader(meta))
	if err != nil {
		return nil, &services.SessionInitError{Name: name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set(headerProtocol, "resumable")
	req.Header.Set(headerCommand, "start")
	req.Header.Set(headerContentType, contentType)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &services.SessionInitError{Name: name, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &services.SessionInitError{Name: name, Err: retry.NewStatusError("upload session start", resp, body)}
	}
	sessionURL := strings.TrimSpace(resp.Header.Get(headerUploadURL))
	if sessionURL == "" {
		return nil, &services.SessionInitError{Name: name, Err: errors.New("response missing upload session url")}
	}
	return &Session{client: c, name: name, contentType: contentType, url: sessionURL}, nil
}

// Upload stores size bytes read from r as name in a single request.
func (c *Client) Upload(ctx context.Context, name, contentType string, r io.Reader, size int64) (Reference, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL(name), r)
	if err != nil {
		return Reference{}, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(headerProtocol, "raw")
	req.Header.Set(headerContentLen, strconv.FormatInt(size, 10))
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reference{}, fmt.Errorf("upload %s: %w", name, err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Reference{}, retry.NewStatusError("upload "+name, resp, body)
	}
	return c.Lookup(ctx, name)
}

// Stage uploads a small object used to hand a chunk to another service by URL.
func (c *Client) Stage(ctx context.Context, name, contentType string, data []byte) (Reference, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return c.Upload(reqCtx, name, contentType, bytes.NewReader(data), int64(len(data)))
}

// Lookup fetches object metadata and builds a download reference from the
// first download token.
func (c *Client) Lookup(ctx context.Context, name string) (Reference, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.objectURL(name), nil)
	if err != nil {
		return Reference{}, err
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reference{}, fmt.Errorf("lookup %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Reference{}, services.Wrap(services.ErrNotFound, "blobstore", "lookup", name, retry.NewStatusError("lookup "+name, resp, body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Reference{}, retry.NewStatusError("lookup "+name, resp, body)
	}

	var meta objectMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return Reference{}, fmt.Errorf("lookup %s: decode metadata: %w", name, err)
	}
	token := meta.firstToken()
	if token == "" {
		return Reference{}, services.Wrap(services.ErrNotFound, "blobstore", "lookup", "no download token for "+name, nil)
	}
	size, _ := strconv.ParseInt(meta.Size.String(), 10, 64)
	objectName := meta.Name
	if objectName == "" {
		objectName = name
	}
	return Reference{
		Name:        objectName,
		Size:        size,
		ContentType: meta.ContentType,
		URL:         c.objectURL(objectName) + "?alt=media&token=" + url.QueryEscape(token),
	}, nil
}

// Delete removes name. A missing object is not an error.
func (c *Client) Delete(ctx context.Context, name string) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodDelete, c.objectURL(name), nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return retry.NewStatusError("delete "+name, resp, body)
}

// Ping checks that the bucket is reachable and the credentials are accepted.
func (c *Client) Ping(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.bucketURL()+"?maxResults=1", nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping storage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return retry.NewStatusError("ping storage", resp, body)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

func (c *Client) bucketURL() string {
	return c.cfg.BaseURL + "/v0/b/" + url.PathEscape(c.cfg.Bucket) + "/o"
}

func (c *Client) uploadURL(name string) string {
	return c.bucketURL() + "?name=" + url.QueryEscape(name)
}

func (c *Client) objectURL(name string) string {
	return c.bucketURL() + "/" + url.PathEscape(name)
}

type objectMetadata struct {
	Name           string      `json:"name"`
	Size           json.Number `json:"size"`
	ContentType    string      `json:"contentType"`
	DownloadTokens string      `json:"downloadTokens"`
}

func (m objectMetadata) firstToken() string {
	for _, token := range strings.Split(m.DownloadTokens, ",") {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}
	return ""
}
