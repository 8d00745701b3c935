// Package placid calls the Placid image templating REST API.
package placid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.placid.app/api/rest"

// Render states reported by Placid.
const (
	StatusQueued   = "queued"
	StatusFinished = "finished"
	StatusError    = "error"
)

// Client calls Placid over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// APIError represents a Placid error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("placid: %d %s", e.Status, e.Message)
}

type Template struct {
	UUID      string   `json:"uuid"`
	Title     string   `json:"title"`
	Thumbnail string   `json:"thumbnail,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// Layer values are keyed by layer name; text layers take Text, picture layers take Image.
type Layer struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type Image struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	ImageURL string `json:"image_url,omitempty"`
}

// NewClient constructs a Placid client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

// Templates lists the account's templates.
func (c *Client) Templates(ctx context.Context) ([]Template, error) {
	var resp struct {
		Data []Template `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/templates", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// CreateImage queues a render of templateUUID with the given layers.
func (c *Client) CreateImage(ctx context.Context, templateUUID string, layers map[string]Layer) (Image, error) {
	if strings.TrimSpace(templateUUID) == "" {
		return Image{}, errors.New("placid: template uuid is required")
	}
	body := map[string]any{
		"template_uuid": templateUUID,
		"layers":        layers,
		"create_now":    true,
	}
	var img Image
	if err := c.do(ctx, http.MethodPost, "/images", body, &img); err != nil {
		return Image{}, err
	}
	return img, nil
}

// GetImage fetches the current state of a render.
func (c *Client) GetImage(ctx context.Context, id int64) (Image, error) {
	var img Image
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/images/%d", id), nil, &img); err != nil {
		return Image{}, err
	}
	return img, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&errResp)
		msg := errResp.Message
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("placid: decode %s: %w", path, err)
	}
	return nil
}
