// Package scripture searches Bible and Quran text providers.
package scripture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deathmatter/pkg/extract"
)

const (
	DefaultBibleBaseURL = "https://api.scripture.api.bible/v1"
	DefaultBibleID      = "06125adad2d5898a-01"
	DefaultQuranBaseURL = "https://api.alquran.cloud/v1"
	DefaultLimit        = 50
)

type Faith string

const (
	Christianity Faith = "Christianity"
	Islam        Faith = "Islam"
)

var ErrUnsupportedFaith = errors.New("scripture: unsupported faith")

// Verse is one search hit.
type Verse struct {
	ID   string `json:"id"`
	Book string `json:"book"`
	Ref  string `json:"ref"`
	Text string `json:"text"`
}

// APIError represents a failed provider call.
type APIError struct {
	Provider string
	Status   int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scripture: %s returned %d", e.Provider, e.Status)
}

type Config struct {
	BibleBaseURL string
	BibleAPIKey  string
	BibleID      string
	QuranBaseURL string
	HTTPClient   *http.Client
}

type Client struct {
	bibleBase  string
	bibleKey   string
	bibleID    string
	quranBase  string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	c := &Client{
		bibleBase:  strings.TrimRight(strings.TrimSpace(cfg.BibleBaseURL), "/"),
		bibleKey:   strings.TrimSpace(cfg.BibleAPIKey),
		bibleID:    strings.TrimSpace(cfg.BibleID),
		quranBase:  strings.TrimRight(strings.TrimSpace(cfg.QuranBaseURL), "/"),
		httpClient: cfg.HTTPClient,
	}
	if c.bibleBase == "" {
		c.bibleBase = DefaultBibleBaseURL
	}
	if c.bibleID == "" {
		c.bibleID = DefaultBibleID
	}
	if c.quranBase == "" {
		c.quranBase = DefaultQuranBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return c
}

// ParseFaith accepts the faith names case-insensitively.
func ParseFaith(s string) (Faith, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "christianity", "christian", "bible":
		return Christianity, nil
	case "islam", "muslim", "quran":
		return Islam, nil
	}
	return "", ErrUnsupportedFaith
}

// Search finds verses containing keyword. ref, when set, keeps only hits whose
// book or reference mentions it.
func (c *Client) Search(ctx context.Context, faith Faith, keyword, ref string, limit int) ([]Verse, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return []Verse{}, nil
	}
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	var (
		verses []Verse
		err    error
	)
	switch faith {
	case Christianity:
		verses, err = c.searchBible(ctx, keyword)
	case Islam:
		verses, err = c.searchQuran(ctx, keyword)
	default:
		return nil, ErrUnsupportedFaith
	}
	if err != nil {
		return nil, err
	}
	if ref = strings.ToLower(strings.TrimSpace(ref)); ref != "" {
		filtered := verses[:0]
		for _, v := range verses {
			if strings.Contains(strings.ToLower(v.Book), ref) || strings.Contains(strings.ToLower(v.Ref), ref) {
				filtered = append(filtered, v)
			}
		}
		verses = filtered
	}
	if len(verses) > limit {
		verses = verses[:limit]
	}
	return verses, nil
}

func (c *Client) searchBible(ctx context.Context, keyword string) ([]Verse, error) {
	if c.bibleKey == "" {
		return nil, errors.New("scripture: bible api key is not configured")
	}
	u := fmt.Sprintf("%s/bibles/%s/search?query=%s&offset=0", c.bibleBase, url.PathEscape(c.bibleID), url.QueryEscape(keyword))
	var payload struct {
		Data struct {
			Verses []struct {
				ID        string `json:"id"`
				BookID    string `json:"bookId"`
				Reference string `json:"reference"`
				Text      string `json:"text"`
			} `json:"verses"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "api.bible", u, map[string]string{"api-key": c.bibleKey}, &payload); err != nil {
		return nil, err
	}
	out := make([]Verse, 0, len(payload.Data.Verses))
	for _, v := range payload.Data.Verses {
		out = append(out, Verse{ID: v.ID, Book: v.BookID, Ref: v.Reference, Text: extract.StripHTML(v.Text)})
	}
	return out, nil
}

func (c *Client) searchQuran(ctx context.Context, keyword string) ([]Verse, error) {
	u := fmt.Sprintf("%s/search/%s/all/en", c.quranBase, url.PathEscape(keyword))
	var payload struct {
		Data struct {
			Matches []struct {
				NumberInSurah int `json:"numberInSurah"`
				Surah         struct {
					Number                 int    `json:"number"`
					EnglishName            string `json:"englishName"`
					EnglishNameTranslation string `json:"englishNameTranslation"`
				} `json:"surah"`
				Text string `json:"text"`
			} `json:"matches"`
		} `json:"data"`
	}
	err := c.getJSON(ctx, "alquran.cloud", u, nil, &payload)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		// alquran.cloud answers 404 when nothing matches.
		return []Verse{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Verse, 0, len(payload.Data.Matches))
	for _, m := range payload.Data.Matches {
		out = append(out, Verse{
			ID:   fmt.Sprintf("%d:%d", m.Surah.Number, m.NumberInSurah),
			Book: m.Surah.EnglishName,
			Ref:  m.Surah.EnglishNameTranslation,
			Text: extract.StripHTML(m.Text),
		})
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, provider, u string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &APIError{Provider: provider, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return fmt.Errorf("scripture: decode %s: %w", provider, err)
	}
	return nil
}
