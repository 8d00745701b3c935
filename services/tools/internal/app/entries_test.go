package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"deathmatter/pkg/ai/aitest"
	"deathmatter/pkg/domain"
	"deathmatter/pkg/storage"
	"deathmatter/pkg/store/storetest"
)

func TestCreateEntryValidation(t *testing.T) {
	f := newFixture(t, aitest.NewScriptedModel())
	ctx := context.Background()
	tests := []struct {
		name string
		in   EntryInput
	}{
		{"missing name", EntryInput{Name: ""}},
		{"bad birth date", EntryInput{Name: "Ada", DateOfBirth: "10/12/1815"}},
		{"death before birth", EntryInput{Name: "Ada", DateOfBirth: "1815-12-10", DateOfDeath: "1800-01-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.app.CreateEntry(ctx, f.user, tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
	if n := storetest.CountRows(t, f.store, "entries"); n != 1 {
		t.Fatalf("invalid input must not create entries, got %d", n)
	}
}

func TestEntryLifecycle(t *testing.T) {
	objects := storage.NewMemoryStore("http://objects.test")
	f := newFixture(t, aitest.NewScriptedModel(), func(c *Config) { c.Objects = objects })
	ctx := context.Background()

	entry, err := f.app.CreateEntry(ctx, f.user, EntryInput{Name: "  Grace Hopper ", DateOfBirth: "1906-12-09", DateOfDeath: "1992-01-01", LocationDied: "Arlington"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if entry.Name != "Grace Hopper" || entry.DateOfBirth == nil || entry.DateOfBirth.Year() != 1906 {
		t.Fatalf("unexpected entry %+v", entry)
	}

	entry, err = f.app.UploadPortrait(ctx, f.user, entry.ID, Upload{Filename: "grace.jpg", ContentType: "image/jpeg", Size: 4, Body: strings.NewReader("jpeg")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	firstKey := storage.PortraitKey(f.user.ID, entry.ID, "grace.jpg")
	if !strings.HasPrefix(entry.ImageURL, "http://objects.test/") {
		t.Fatalf("portrait url not presigned: %q", entry.ImageURL)
	}
	if _, ct, ok := objects.Object(firstKey); !ok || ct != "image/jpeg" {
		t.Fatalf("portrait not stored under %s", firstKey)
	}
	if _, err := f.app.UploadPortrait(ctx, f.user, entry.ID, Upload{Filename: "notes.txt", ContentType: "text/plain", Body: strings.NewReader("x")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected non-image upload to be rejected, got %v", err)
	}
	if _, err := f.app.UploadPortrait(ctx, f.user, entry.ID, Upload{Filename: "grace2.png", ContentType: "image/png", Size: 3, Body: strings.NewReader("png")}); err != nil {
		t.Fatalf("replace portrait: %v", err)
	}
	if _, _, ok := objects.Object(firstKey); ok {
		t.Fatalf("previous portrait should be deleted")
	}

	updated, err := f.app.UpdateEntry(ctx, f.user, entry.ID, EntryInput{Name: "Grace Brewster Hopper", CauseOfDeath: "natural causes"})
	if err != nil || updated.Name != "Grace Brewster Hopper" || updated.DateOfBirth != nil || updated.ImageURL == "" {
		t.Fatalf("updated=%+v err=%v", updated, err)
	}

	listed, err := f.app.ListEntries(ctx, f.user)
	if err != nil || len(listed) != 2 {
		t.Fatalf("listed=%+v err=%v", listed, err)
	}
	if _, err := f.app.GetEntry(ctx, domain.User{ID: "user_other"}, entry.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	if err := f.app.DeleteEntry(ctx, f.user, entry.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.app.GetEntry(ctx, f.user, entry.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, _, ok := objects.Object(storage.PortraitKey(f.user.ID, entry.ID, "grace2.png")); ok {
		t.Fatalf("portrait should be removed with the entry")
	}
}

func TestEntryDetails(t *testing.T) {
	f := newFixture(t, aitest.NewScriptedModel())
	ctx := context.Background()

	empty, err := f.app.GetEntryDetails(ctx, f.user, f.entry.ID)
	if err != nil || empty.EntryID != f.entry.ID || empty.Occupation != "" {
		t.Fatalf("empty=%+v err=%v", empty, err)
	}
	if _, err := f.app.SaveEntryDetails(ctx, f.user, f.entry.ID, domain.EntryDetails{SurvivedBy: "her son Byron"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected free-text family field to be rejected, got %v", err)
	}
	saved, err := f.app.SaveEntryDetails(ctx, f.user, f.entry.ID, domain.EntryDetails{
		Occupation: "Mathematician",
		PrecededBy: `[{"name":"Lord Byron","relationship":"father"}]`,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := f.app.GetEntryDetails(ctx, f.user, f.entry.ID)
	if err != nil || got.Occupation != "Mathematician" || got.PrecededBy != saved.PrecededBy {
		t.Fatalf("got=%+v err=%v", got, err)
	}
	if _, err := f.app.GetEntryDetails(ctx, f.user, "not-a-uuid"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected invalid id, got %v", err)
	}
}
