// Package quotes searches the Stands4 quotations API.
package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"deathmatter/pkg/domain"
)

const (
	DefaultBaseURL = "https://www.stands4.com/services/v2/quotes.php"
	DefaultLimit   = 50
	sourceName     = "Stands4.com"
)

// APIError represents a failed Stands4 call.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stands4: %d %s", e.Status, e.Message)
}

type Config struct {
	BaseURL string
	UID     string
	TokenID string
	// RequestsPerSecond throttles outbound calls. Zero means 2/s.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

type Client struct {
	baseURL    string
	uid        string
	tokenID    string
	limiter    *rate.Limiter
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.UID) == "" || strings.TrimSpace(cfg.TokenID) == "" {
		return nil, errors.New("stands4: uid and token id are required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    base,
		uid:        strings.TrimSpace(cfg.UID),
		tokenID:    strings.TrimSpace(cfg.TokenID),
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		httpClient: hc,
	}, nil
}

// Query selects quotes. With both Keyword and Author set, the author's quotes
// are filtered to those containing the keyword.
type Query struct {
	Keyword string
	Author  string
	Lengths []domain.QuoteLength
	Limit   int
}

// Search runs q against Stands4 and applies the length filter.
func (c *Client) Search(ctx context.Context, q Query) ([]domain.Quote, error) {
	keyword := strings.TrimSpace(q.Keyword)
	author := strings.TrimSpace(q.Author)
	limit := q.Limit
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	var (
		out []domain.Quote
		err error
	)
	switch {
	case author != "":
		out, err = c.fetch(ctx, "AUTHOR", author, limit)
		if err == nil && keyword != "" {
			needle := strings.ToLower(keyword)
			out = slices.DeleteFunc(out, func(item domain.Quote) bool {
				return !strings.Contains(strings.ToLower(item.Quote), needle)
			})
		}
	case keyword != "":
		out, err = c.fetch(ctx, "SEARCH", keyword, limit)
	default:
		return []domain.Quote{}, nil
	}
	if err != nil {
		return nil, err
	}
	return FilterByLength(out, q.Lengths), nil
}

// FilterByLength keeps quotes whose length class is listed. No lengths keeps everything.
func FilterByLength(in []domain.Quote, lengths []domain.QuoteLength) []domain.Quote {
	if len(lengths) == 0 {
		return in
	}
	out := make([]domain.Quote, 0, len(in))
	for _, q := range in {
		if slices.Contains(lengths, q.Length) {
			out = append(out, q)
		}
	}
	return out
}

type stands4Item struct {
	Quote    string `json:"quote"`
	Author   string `json:"author"`
	Category string `json:"category"`
}

func (c *Client) fetch(ctx context.Context, searchType, query string, limit int) ([]domain.Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("uid", c.uid)
	params.Set("tokenid", c.tokenID)
	params.Set("searchtype", searchType)
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &APIError{Status: resp.StatusCode, Message: resp.Status}
	}
	var payload struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("stands4: decode: %w", err)
	}
	if payload.Error != "" {
		return nil, &APIError{Status: resp.StatusCode, Message: payload.Error}
	}
	items, err := decodeItems(payload.Result)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Quote, 0, len(items))
	for _, item := range items {
		text := strings.TrimSpace(html.UnescapeString(item.Quote))
		if text == "" {
			continue
		}
		author := strings.TrimSpace(html.UnescapeString(item.Author))
		if author == "" {
			author = "Unknown"
		}
		out = append(out, domain.Quote{
			Quote:    text,
			Author:   author,
			Source:   sourceName,
			Length:   domain.ClassifyLength(text),
			Category: item.Category,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// decodeItems accepts the array form and the single-object form Stands4
// returns for one match.
func decodeItems(raw json.RawMessage) ([]stands4Item, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var one stands4Item
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("stands4: decode result: %w", err)
		}
		return []stands4Item{one}, nil
	}
	var many []stands4Item
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("stands4: decode result: %w", err)
	}
	return many, nil
}
