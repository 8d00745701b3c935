package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deathmatter/pkg/cache"
	"deathmatter/pkg/domain"
	"deathmatter/pkg/ids"
	"deathmatter/pkg/quotes"
	"deathmatter/pkg/scripture"
)

const searchLimit = 50

// SearchQuotes looks quotes up by keyword and/or author. Provider results are
// cached per query; the length filter is applied afterwards.
func (a *App) SearchQuotes(ctx context.Context, keyword, author string, lengths []string) ([]domain.Quote, error) {
	keyword, author = strings.TrimSpace(keyword), strings.TrimSpace(author)
	if keyword == "" && author == "" {
		return nil, fmt.Errorf("%w: keyword or author required", ErrInvalidInput)
	}
	filter := make([]domain.QuoteLength, 0, len(lengths))
	for _, l := range lengths {
		switch ql := domain.QuoteLength(strings.ToLower(strings.TrimSpace(l))); ql {
		case domain.LengthShort, domain.LengthMedium, domain.LengthLong:
			filter = append(filter, ql)
		case "":
		default:
			return nil, fmt.Errorf("%w: unknown length %q", ErrInvalidInput, l)
		}
	}
	if a.quotes == nil {
		return nil, fmt.Errorf("%w: quote search not configured", ErrUpstream)
	}
	results, err := cache.Fetch(ctx, a.cache, "quotes:"+keyword+"|"+author, func(ctx context.Context) ([]domain.Quote, error) {
		return a.quotes.Search(ctx, quotes.Query{Keyword: keyword, Author: author, Limit: searchLimit})
	})
	if err != nil {
		a.metrics.UpstreamError("quotes")
		return nil, fmt.Errorf("%w: quote search: %v", ErrUpstream, err)
	}
	return quotes.FilterByLength(results, filter), nil
}

// SearchScripture finds verses for a keyword in the Bible or the Quran.
func (a *App) SearchScripture(ctx context.Context, faith, keyword string) ([]scripture.Verse, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("%w: keyword required", ErrInvalidInput)
	}
	f, err := scripture.ParseFaith(faith)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if a.scripture == nil {
		return nil, fmt.Errorf("%w: scripture search not configured", ErrUpstream)
	}
	verses, err := cache.Fetch(ctx, a.cache, "scripture:"+string(f)+"|"+keyword, func(ctx context.Context) ([]scripture.Verse, error) {
		return a.scripture.Search(ctx, f, keyword, "", searchLimit)
	})
	if errors.Is(err, scripture.ErrUnsupportedFaith) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		a.metrics.UpstreamError("scripture")
		return nil, fmt.Errorf("%w: scripture search: %v", ErrUpstream, err)
	}
	return verses, nil
}

// SaveQuoteInput is a quote the user keeps for an entry.
type SaveQuoteInput struct {
	Quote    string `json:"quote" validate:"required,max=5000"`
	Citation string `json:"citation" validate:"max=500"`
	Source   string `json:"source" validate:"max=200"`
}

func (a *App) SaveQuote(ctx context.Context, user domain.User, entryID string, in SaveQuoteInput) (domain.SavedQuote, error) {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return domain.SavedQuote{}, err
	}
	if err := a.check(in); err != nil {
		return domain.SavedQuote{}, err
	}
	text := strings.TrimSpace(in.Quote)
	q := domain.SavedQuote{
		ID:        ids.New(),
		UserID:    user.ID,
		EntryID:   entry.ID,
		Quote:     text,
		Citation:  strings.TrimSpace(in.Citation),
		Source:    strings.TrimSpace(in.Source),
		Length:    domain.ClassifyLength(text),
		CreatedAt: a.now(),
	}
	if err := a.store.SaveQuote(ctx, q); err != nil {
		return domain.SavedQuote{}, fmt.Errorf("save quote: %w", err)
	}
	return q, nil
}

func (a *App) ListSavedQuotes(ctx context.Context, user domain.User, entryID string) ([]domain.SavedQuote, error) {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return nil, err
	}
	items, err := a.store.ListSavedQuotes(ctx, user.ID, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	return items, nil
}

func (a *App) DeleteSavedQuote(ctx context.Context, user domain.User, quoteID string) error {
	id, err := parseID(quoteID)
	if err != nil {
		return err
	}
	q, ok, err := a.store.GetSavedQuote(ctx, id)
	if err != nil {
		return fmt.Errorf("load quote: %w", err)
	}
	if !ok {
		return ErrQuoteNotFound
	}
	if q.UserID != user.ID {
		return ErrForbidden
	}
	if err := a.store.DeleteSavedQuote(ctx, q.ID); err != nil {
		return fmt.Errorf("delete quote: %w", err)
	}
	return nil
}
