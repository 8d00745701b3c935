package store

import (
	"context"
	"errors"
	"time"

	"deathmatter/pkg/domain"
)

var (
	// ErrMissingReference is returned when a write names an entry, user,
	// document or chat that does not exist.
	ErrMissingReference = errors.New("store: referenced record not found")
	// ErrCursorNotFound is returned when a pagination cursor names an unknown chat.
	ErrCursorNotFound = errors.New("store: pagination cursor not found")
)

// ChatPage is one page of a user's chats, newest first.
type ChatPage struct {
	Chats   []domain.Chat
	HasMore bool
}

// ChatPageQuery selects a page of chats. At most one cursor may be set.
type ChatPageQuery struct {
	UserID        string
	Limit         int
	StartingAfter string
	EndingBefore  string
}

// Store defines persistence operations for entries, documents, chats and media.
// Lookups return ok=false when the record does not exist.
type Store interface {
	// users
	EnsureUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, bool, error)

	// entries
	SaveEntry(ctx context.Context, e domain.Entry) error
	GetEntry(ctx context.Context, id string) (domain.Entry, bool, error)
	ListEntriesByUser(ctx context.Context, userID string) ([]domain.Entry, error)
	DeleteEntry(ctx context.Context, id string) error
	SaveEntryDetails(ctx context.Context, d domain.EntryDetails) error
	GetEntryDetails(ctx context.Context, entryID string) (domain.EntryDetails, bool, error)

	// documents
	CreateDocument(ctx context.Context, d domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, bool, error)
	GetDocumentVersion(ctx context.Context, id string, createdAt time.Time) (domain.Document, bool, error)
	ListDocumentsByEntry(ctx context.Context, entryID string) ([]domain.Document, error)
	LatestDocumentByEntry(ctx context.Context, entryID string) (domain.Document, bool, error)
	CountDocumentsByEntry(ctx context.Context, entryID string) (int, error)
	UpdateDocumentContent(ctx context.Context, id, content string) (bool, error)
	DeleteDocument(ctx context.Context, id string) error

	// chats
	CreateChat(ctx context.Context, c domain.Chat) error
	GetChat(ctx context.Context, id string) (domain.Chat, bool, error)
	GetChatByDocument(ctx context.Context, documentID string, documentCreatedAt time.Time, userID string) (domain.Chat, bool, error)
	ListChatsByUser(ctx context.Context, q ChatPageQuery) (ChatPage, error)
	UpdateChatVisibility(ctx context.Context, id string, visibility domain.Visibility) error
	DeleteChat(ctx context.Context, id string) error

	// transcript
	SaveMessages(ctx context.Context, msgs []domain.Message) error
	ListMessagesByChat(ctx context.Context, chatID string) ([]domain.Message, error)
	CountUserMessagesSince(ctx context.Context, userID string, since time.Time) (int, error)
	DeleteMessagesAfter(ctx context.Context, chatID string, ts time.Time) error
	VoteMessage(ctx context.Context, v domain.Vote) error
	ListVotesByChat(ctx context.Context, chatID string) ([]domain.Vote, error)

	// media
	SaveGeneratedImages(ctx context.Context, images []domain.GeneratedImage) error
	GetImage(ctx context.Context, id string) (domain.GeneratedImage, bool, error)
	ListImagesByEntry(ctx context.Context, userID, entryID string) ([]domain.GeneratedImage, error)
	UpdateImageStatus(ctx context.Context, id string, status domain.ImageStatus, imageURL string) error
	DeleteImage(ctx context.Context, id string) error

	// quotes
	SaveQuote(ctx context.Context, q domain.SavedQuote) error
	GetSavedQuote(ctx context.Context, id string) (domain.SavedQuote, bool, error)
	ListSavedQuotes(ctx context.Context, userID, entryID string) ([]domain.SavedQuote, error)
	DeleteSavedQuote(ctx context.Context, id string) error
}
