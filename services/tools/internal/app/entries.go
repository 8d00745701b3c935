package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"deathmatter/pkg/domain"
	"deathmatter/pkg/ids"
	"deathmatter/pkg/storage"
)

const dateLayout = "2006-01-02"

// EntryInput is the editable part of an entry. Dates use YYYY-MM-DD.
type EntryInput struct {
	Name         string `json:"name" validate:"required,max=200"`
	DateOfBirth  string `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	DateOfDeath  string `json:"dateOfDeath" validate:"omitempty,datetime=2006-01-02"`
	LocationBorn string `json:"locationBorn" validate:"max=200"`
	LocationDied string `json:"locationDied" validate:"max=200"`
	CauseOfDeath string `json:"causeOfDeath" validate:"max=500"`
}

func (in EntryInput) apply(e *domain.Entry) error {
	e.Name = strings.TrimSpace(in.Name)
	e.DateOfBirth = parseDate(in.DateOfBirth)
	e.DateOfDeath = parseDate(in.DateOfDeath)
	if e.DateOfBirth != nil && e.DateOfDeath != nil && e.DateOfDeath.Before(*e.DateOfBirth) {
		return fmt.Errorf("%w: dateOfDeath is before dateOfBirth", ErrInvalidInput)
	}
	e.LocationBorn = strings.TrimSpace(in.LocationBorn)
	e.LocationDied = strings.TrimSpace(in.LocationDied)
	e.CauseOfDeath = strings.TrimSpace(in.CauseOfDeath)
	return nil
}

func parseDate(raw string) *time.Time {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &t
}

func (a *App) CreateEntry(ctx context.Context, user domain.User, in EntryInput) (domain.Entry, error) {
	if err := a.check(in); err != nil {
		return domain.Entry{}, err
	}
	now := a.now()
	entry := domain.Entry{ID: ids.New(), UserID: user.ID, CreatedAt: now, UpdatedAt: now}
	if err := in.apply(&entry); err != nil {
		return domain.Entry{}, err
	}
	if err := a.store.SaveEntry(ctx, entry); err != nil {
		return domain.Entry{}, fmt.Errorf("save entry: %w", err)
	}
	return entry, nil
}

// ListEntries returns the caller's entries, newest first, with portrait URLs.
func (a *App) ListEntries(ctx context.Context, user domain.User) ([]domain.Entry, error) {
	entries, err := a.store.ListEntriesByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	for i := range entries {
		a.withImageURL(ctx, &entries[i])
	}
	return entries, nil
}

func (a *App) GetEntry(ctx context.Context, user domain.User, entryID string) (domain.Entry, error) {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return domain.Entry{}, err
	}
	a.withImageURL(ctx, &entry)
	return entry, nil
}

func (a *App) UpdateEntry(ctx context.Context, user domain.User, entryID string, in EntryInput) (domain.Entry, error) {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return domain.Entry{}, err
	}
	if err := a.check(in); err != nil {
		return domain.Entry{}, err
	}
	if err := in.apply(&entry); err != nil {
		return domain.Entry{}, err
	}
	entry.UpdatedAt = a.now()
	if err := a.store.SaveEntry(ctx, entry); err != nil {
		return domain.Entry{}, fmt.Errorf("save entry: %w", err)
	}
	a.withImageURL(ctx, &entry)
	return entry, nil
}

// DeleteEntry removes the entry with its documents, chats, images and quotes.
// The portrait object is removed on a best-effort basis.
func (a *App) DeleteEntry(ctx context.Context, user domain.User, entryID string) error {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteEntry(ctx, entry.ID); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if entry.ImageKey != "" && a.objects != nil {
		if err := a.objects.Delete(ctx, entry.ImageKey); err != nil {
			a.logger(ctx).Warn("delete portrait failed", "entry_id", entry.ID, "key", entry.ImageKey, "err", err)
		}
	}
	return nil
}

// GetEntryDetails returns the biography for an entry. An entry without
// details yields an empty record.
func (a *App) GetEntryDetails(ctx context.Context, user domain.User, entryID string) (domain.EntryDetails, error) {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return domain.EntryDetails{}, err
	}
	details, ok, err := a.store.GetEntryDetails(ctx, entry.ID)
	if err != nil {
		return domain.EntryDetails{}, fmt.Errorf("load details: %w", err)
	}
	if !ok {
		return domain.EntryDetails{EntryID: entry.ID}, nil
	}
	return details, nil
}

// SaveEntryDetails replaces the biography for an entry. Family fields must be
// empty or a JSON list of {name, relationship}.
func (a *App) SaveEntryDetails(ctx context.Context, user domain.User, entryID string, details domain.EntryDetails) (domain.EntryDetails, error) {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return domain.EntryDetails{}, err
	}
	for field, raw := range map[string]string{
		"familyDetails": details.FamilyDetails,
		"survivedBy":    details.SurvivedBy,
		"precededBy":    details.PrecededBy,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		var members []domain.FamilyMember
		if err := json.Unmarshal([]byte(raw), &members); err != nil {
			return domain.EntryDetails{}, fmt.Errorf("%w: %s must be a list of family members", ErrInvalidInput, field)
		}
	}
	details.EntryID = entry.ID
	details.UpdatedAt = a.now()
	if err := a.store.SaveEntryDetails(ctx, details); err != nil {
		return domain.EntryDetails{}, fmt.Errorf("save details: %w", err)
	}
	return details, nil
}

// Upload is a file received from the client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadPortrait stores an entry's portrait and returns the updated entry.
func (a *App) UploadPortrait(ctx context.Context, user domain.User, entryID string, up Upload) (domain.Entry, error) {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return domain.Entry{}, err
	}
	if a.objects == nil {
		return domain.Entry{}, fmt.Errorf("object storage not configured")
	}
	if !strings.HasPrefix(strings.ToLower(up.ContentType), "image/") {
		return domain.Entry{}, fmt.Errorf("%w: portrait must be an image", ErrInvalidInput)
	}
	key := storage.PortraitKey(user.ID, entry.ID, up.Filename)
	if err := a.objects.Put(ctx, key, up.Body, up.Size, up.ContentType); err != nil {
		return domain.Entry{}, fmt.Errorf("store portrait: %w", err)
	}
	previous := entry.ImageKey
	entry.ImageKey = key
	entry.UpdatedAt = a.now()
	if err := a.store.SaveEntry(ctx, entry); err != nil {
		return domain.Entry{}, fmt.Errorf("save entry: %w", err)
	}
	if previous != "" && previous != key {
		if err := a.objects.Delete(ctx, previous); err != nil {
			a.logger(ctx).Warn("delete old portrait failed", "entry_id", entry.ID, "key", previous, "err", err)
		}
	}
	a.withImageURL(ctx, &entry)
	return entry, nil
}

func (a *App) withImageURL(ctx context.Context, e *domain.Entry) {
	if e.ImageKey == "" || a.objects == nil {
		return
	}
	u, err := a.objects.PresignGet(ctx, e.ImageKey, presignExpiry)
	if err != nil {
		a.logger(ctx).Warn("presign portrait failed", "entry_id", e.ID, "err", err)
		return
	}
	e.ImageURL = u
}
