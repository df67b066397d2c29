// Package client is an HTTP client for the image cache service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// Client talks to a running image cache server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client with a 30 second request timeout.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewWithHTTPClient creates a client with a custom HTTP client.
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// Upload submits image bytes with crop parameters and returns the result,
// which is either ready (synchronous mode) or a processing placeholder.
func (c *Client) Upload(ctx context.Context, data []byte, params imagecache.CropParams) (*imagecache.Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "upload")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file part: %w", err)
	}

	fields := map[string]string{
		"x": strconv.Itoa(params.X),
		"y": strconv.Itoa(params.Y),
		"w": strconv.Itoa(params.W),
		"h": strconv.Itoa(params.H),
	}
	if params.Quality != 0 {
		fields["quality"] = strconv.Itoa(params.Quality)
	}
	if params.Format != "" {
		fields["format"] = params.Format
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/v1/images", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req)
}

// Lookup fetches the state of an identity by content hash and signature.
func (c *Client) Lookup(ctx context.Context, hash, sig string) (*imagecache.Result, error) {
	url := fmt.Sprintf("%s/v1/images/%s/%s", c.baseURL, hash, sig)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*imagecache.Result, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result imagecache.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}
