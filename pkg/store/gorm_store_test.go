package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"deathmatter/pkg/domain"
	"deathmatter/pkg/ids"
	"deathmatter/pkg/store"
	"deathmatter/pkg/store/storetest"
)

func seedEntry(t *testing.T, s *store.GormStore, userID string) domain.Entry {
	t.Helper()
	ctx := context.Background()
	if err := s.EnsureUser(ctx, domain.User{ID: userID}); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	entry := domain.Entry{ID: ids.New(), UserID: userID, Name: "Ada Lovelace"}
	if err := s.SaveEntry(ctx, entry); err != nil {
		t.Fatalf("save entry: %v", err)
	}
	return entry
}

func seedDocument(t *testing.T, s *store.GormStore, entry domain.Entry) domain.Document {
	t.Helper()
	doc := domain.Document{
		ID:         ids.New(),
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
		EntryID:    entry.ID,
		UserID:     entry.UserID,
		Title:      "Obituary for Ada Lovelace",
		Content:    "Ada Lovelace, 36, of London.",
		Kind:       domain.KindObituary,
		TokenUsage: 412,
	}
	if err := s.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func seedChat(t *testing.T, s *store.GormStore, doc domain.Document) domain.Chat {
	t.Helper()
	createdAt := doc.CreatedAt
	docID := doc.ID
	chat := domain.Chat{
		ID:                ids.New(),
		UserID:            doc.UserID,
		EntryID:           doc.EntryID,
		Title:             "Revisions",
		DocumentID:        &docID,
		DocumentCreatedAt: &createdAt,
		Visibility:        domain.VisibilityPublic,
	}
	if err := s.CreateChat(context.Background(), chat); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return chat
}

func TestDocumentRoundTrip(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	entry := seedEntry(t, s, "user_1")
	doc := seedDocument(t, s, entry)

	got, ok, err := s.GetDocument(ctx, doc.ID)
	if err != nil || !ok {
		t.Fatalf("get document: ok=%v err=%v", ok, err)
	}
	if got.Title != doc.Title || got.Content != doc.Content || got.TokenUsage != doc.TokenUsage {
		t.Fatalf("document mismatch: got %+v want %+v", got, doc)
	}
	if !got.CreatedAt.Equal(doc.CreatedAt) {
		t.Fatalf("created_at mismatch: got %v want %v", got.CreatedAt, doc.CreatedAt)
	}

	version, ok, err := s.GetDocumentVersion(ctx, doc.ID, doc.CreatedAt)
	if err != nil || !ok {
		t.Fatalf("get document version: ok=%v err=%v", ok, err)
	}
	if version.Content != doc.Content {
		t.Fatalf("version content mismatch: %q", version.Content)
	}

	if _, ok, err := s.GetDocument(ctx, ids.New()); err != nil || ok {
		t.Fatalf("expected missing document, ok=%v err=%v", ok, err)
	}
}

func TestCreateDocumentRequiresOwnedEntry(t *testing.T) {
	s := storetest.New(t)
	entry := seedEntry(t, s, "user_1")

	doc := domain.Document{ID: ids.New(), EntryID: entry.ID, UserID: "someone_else", Title: "x", Content: "y"}
	err := s.CreateDocument(context.Background(), doc)
	if !errors.Is(err, store.ErrMissingReference) {
		t.Fatalf("expected ErrMissingReference, got %v", err)
	}
	if n := storetest.CountRows(t, s, "documents"); n != 0 {
		t.Fatalf("expected no documents, got %d", n)
	}
}

func TestUpdateDocumentContent(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	doc := seedDocument(t, s, seedEntry(t, s, "user_1"))

	ok, err := s.UpdateDocumentContent(ctx, doc.ID, "Shorter.")
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	got, _, _ := s.GetDocument(ctx, doc.ID)
	if got.Content != "Shorter." {
		t.Fatalf("content not updated: %q", got.Content)
	}

	ok, err = s.UpdateDocumentContent(ctx, ids.New(), "nothing")
	if err != nil || ok {
		t.Fatalf("expected no match for unknown id, ok=%v err=%v", ok, err)
	}
}

func TestTranscriptRoundTripInCreationOrder(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	chat := seedChat(t, s, seedDocument(t, s, seedEntry(t, s, "user_1")))

	base := time.Now().UTC().Add(-time.Hour)
	var want []domain.Message
	for i := 0; i < 6; i++ {
		role := domain.RoleUser
		parts := []domain.Part{{Type: "text", Text: "turn"}}
		if i%2 == 1 {
			role = domain.RoleAssistant
			parts = append(parts, domain.Part{Type: "data-updateDocument", ID: "evt", Data: json.RawMessage(`{"status":"success"}`)})
		}
		want = append(want, domain.Message{
			ID:        ids.New(),
			ChatID:    chat.ID,
			Role:      role,
			Parts:     parts,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	// insert out of order; reads must still come back by created_at
	if err := s.SaveMessages(ctx, []domain.Message{want[3], want[0], want[5]}); err != nil {
		t.Fatalf("save batch 1: %v", err)
	}
	if err := s.SaveMessages(ctx, []domain.Message{want[2], want[4], want[1]}); err != nil {
		t.Fatalf("save batch 2: %v", err)
	}

	got, err := s.ListMessagesByChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Role != want[i].Role {
			t.Fatalf("message %d mismatch: got %s/%s want %s/%s", i, got[i].ID, got[i].Role, want[i].ID, want[i].Role)
		}
		if len(got[i].Parts) != len(want[i].Parts) {
			t.Fatalf("message %d parts mismatch: %+v", i, got[i].Parts)
		}
		for j := range want[i].Parts {
			g, w := got[i].Parts[j], want[i].Parts[j]
			if g.Type != w.Type || g.Text != w.Text || g.ID != w.ID || string(g.Data) != string(w.Data) {
				t.Fatalf("message %d part %d mismatch: got %+v want %+v", i, j, g, w)
			}
		}
	}
}

func TestSaveMessagesRejectsUnknownChat(t *testing.T) {
	s := storetest.New(t)
	err := s.SaveMessages(context.Background(), []domain.Message{{ID: ids.New(), ChatID: ids.New(), Role: domain.RoleUser}})
	if !errors.Is(err, store.ErrMissingReference) {
		t.Fatalf("expected ErrMissingReference, got %v", err)
	}
}

func TestCountUserMessagesSince(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	chat := seedChat(t, s, seedDocument(t, s, seedEntry(t, s, "user_1")))
	other := seedChat(t, s, seedDocument(t, s, seedEntry(t, s, "user_2")))

	now := time.Now().UTC()
	msgs := []domain.Message{
		{ID: ids.New(), ChatID: chat.ID, Role: domain.RoleUser, CreatedAt: now.Add(-time.Hour)},
		{ID: ids.New(), ChatID: chat.ID, Role: domain.RoleUser, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: ids.New(), ChatID: chat.ID, Role: domain.RoleAssistant, CreatedAt: now.Add(-time.Hour)},
		{ID: ids.New(), ChatID: chat.ID, Role: domain.RoleUser, CreatedAt: now.Add(-30 * time.Hour)},
		{ID: ids.New(), ChatID: other.ID, Role: domain.RoleUser, CreatedAt: now.Add(-time.Hour)},
	}
	if err := s.SaveMessages(ctx, msgs); err != nil {
		t.Fatalf("save messages: %v", err)
	}
	n, err := s.CountUserMessagesSince(ctx, "user_1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 user messages in window, got %d", n)
	}
}

func TestGetChatByDocument(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	doc := seedDocument(t, s, seedEntry(t, s, "user_1"))
	chat := seedChat(t, s, doc)

	got, ok, err := s.GetChatByDocument(ctx, doc.ID, doc.CreatedAt, "user_1")
	if err != nil || !ok {
		t.Fatalf("get chat by document: ok=%v err=%v", ok, err)
	}
	if got.ID != chat.ID || got.Visibility != domain.VisibilityPublic {
		t.Fatalf("unexpected chat: %+v", got)
	}
	if _, ok, _ := s.GetChatByDocument(ctx, doc.ID, doc.CreatedAt, "user_2"); ok {
		t.Fatalf("chat must not be visible to another user")
	}
}

func TestCreateChatRejectsUnknownDocumentVersion(t *testing.T) {
	s := storetest.New(t)
	doc := seedDocument(t, s, seedEntry(t, s, "user_1"))
	wrong := doc.CreatedAt.Add(time.Second)
	chat := domain.Chat{ID: ids.New(), UserID: doc.UserID, EntryID: doc.EntryID, Title: "x", DocumentID: &doc.ID, DocumentCreatedAt: &wrong}
	if err := s.CreateChat(context.Background(), chat); !errors.Is(err, store.ErrMissingReference) {
		t.Fatalf("expected ErrMissingReference, got %v", err)
	}
}

func TestDeleteEntryCascades(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	entry := seedEntry(t, s, "user_1")
	chat := seedChat(t, s, seedDocument(t, s, entry))
	msgID := ids.New()
	if err := s.SaveMessages(ctx, []domain.Message{{ID: msgID, ChatID: chat.ID, Role: domain.RoleUser}}); err != nil {
		t.Fatalf("save message: %v", err)
	}
	if err := s.VoteMessage(ctx, domain.Vote{ChatID: chat.ID, MessageID: msgID, IsUpvoted: true}); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := s.SaveGeneratedImages(ctx, []domain.GeneratedImage{{ID: ids.New(), UserID: "user_1", EntryID: entry.ID, TemplateID: "tpl"}}); err != nil {
		t.Fatalf("save image: %v", err)
	}
	if err := s.SaveQuote(ctx, domain.SavedQuote{ID: ids.New(), UserID: "user_1", EntryID: entry.ID, Quote: "q", Length: domain.LengthShort}); err != nil {
		t.Fatalf("save quote: %v", err)
	}
	if err := s.SaveEntryDetails(ctx, domain.EntryDetails{EntryID: entry.ID, Occupation: "Mathematician"}); err != nil {
		t.Fatalf("save details: %v", err)
	}

	if err := s.DeleteEntry(ctx, entry.ID); err != nil {
		t.Fatalf("delete entry: %v", err)
	}
	for _, table := range []string{"entries", "entry_details", "documents", "chats", "messages", "votes", "generated_images", "saved_quotes"} {
		if n := storetest.CountRows(t, s, table); n != 0 {
			t.Fatalf("expected %s to be empty after cascade, got %d", table, n)
		}
	}
}

func TestListChatsByUserPagination(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	entry := seedEntry(t, s, "user_1")
	base := time.Now().UTC().Add(-time.Hour)
	var created []domain.Chat
	for i := 0; i < 5; i++ {
		c := domain.Chat{ID: ids.New(), UserID: "user_1", EntryID: entry.ID, Title: "c", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.CreateChat(ctx, c); err != nil {
			t.Fatalf("create chat: %v", err)
		}
		created = append(created, c)
	}

	page, err := s.ListChatsByUser(ctx, store.ChatPageQuery{UserID: "user_1", Limit: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if !page.HasMore || len(page.Chats) != 2 || page.Chats[0].ID != created[4].ID {
		t.Fatalf("unexpected first page: hasMore=%v chats=%d", page.HasMore, len(page.Chats))
	}

	page, err = s.ListChatsByUser(ctx, store.ChatPageQuery{UserID: "user_1", Limit: 10, EndingBefore: created[2].ID})
	if err != nil {
		t.Fatalf("ending before: %v", err)
	}
	if page.HasMore || len(page.Chats) != 2 || page.Chats[0].ID != created[1].ID {
		t.Fatalf("unexpected older page: %+v", page)
	}

	page, err = s.ListChatsByUser(ctx, store.ChatPageQuery{UserID: "user_1", Limit: 10, StartingAfter: created[3].ID})
	if err != nil {
		t.Fatalf("starting after: %v", err)
	}
	if len(page.Chats) != 1 || page.Chats[0].ID != created[4].ID {
		t.Fatalf("unexpected newer page: %+v", page)
	}

	if _, err := s.ListChatsByUser(ctx, store.ChatPageQuery{UserID: "user_1", StartingAfter: ids.New()}); !errors.Is(err, store.ErrCursorNotFound) {
		t.Fatalf("expected ErrCursorNotFound, got %v", err)
	}
}
