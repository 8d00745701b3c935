package app

import (
	"context"
	"fmt"

	"deathmatter/pkg/domain"
)

// LatestDocument returns the most recent document written for an entry.
func (a *App) LatestDocument(ctx context.Context, user domain.User, entryID string) (domain.Document, error) {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return domain.Document{}, err
	}
	doc, ok, err := a.store.LatestDocumentByEntry(ctx, entry.ID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("latest document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

func (a *App) ListDocuments(ctx context.Context, user domain.User, entryID string) ([]domain.Document, error) {
	entry, err := a.ownedEntry(ctx, user.ID, entryID)
	if err != nil {
		return nil, err
	}
	docs, err := a.store.ListDocumentsByEntry(ctx, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (a *App) GetDocument(ctx context.Context, user domain.User, documentID string) (domain.Document, error) {
	return a.ownedDocument(ctx, user.ID, documentID)
}

func (a *App) DeleteDocument(ctx context.Context, user domain.User, documentID string) error {
	doc, err := a.ownedDocument(ctx, user.ID, documentID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// DocumentChat is the chat attached to a document, if one was started.
type DocumentChat struct {
	Document domain.Document  `json:"document"`
	Chat     *domain.Chat     `json:"chat"`
	Messages []domain.Message `json:"messages"`
}

// GetDocumentChat loads a document together with the caller's chat about it.
func (a *App) GetDocumentChat(ctx context.Context, user domain.User, documentID string) (DocumentChat, error) {
	doc, err := a.ownedDocument(ctx, user.ID, documentID)
	if err != nil {
		return DocumentChat{}, err
	}
	out := DocumentChat{Document: doc, Messages: []domain.Message{}}
	chat, ok, err := a.store.GetChatByDocument(ctx, doc.ID, doc.CreatedAt, user.ID)
	if err != nil {
		return DocumentChat{}, fmt.Errorf("load document chat: %w", err)
	}
	if !ok {
		return out, nil
	}
	msgs, err := a.store.ListMessagesByChat(ctx, chat.ID)
	if err != nil {
		return DocumentChat{}, fmt.Errorf("list messages: %w", err)
	}
	out.Chat = &chat
	out.Messages = msgs
	return out, nil
}

// checkDocumentLimit rejects a new document once the entry is full.
func (a *App) checkDocumentLimit(ctx context.Context, entryID string) error {
	n, err := a.store.CountDocumentsByEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	if n >= a.maxDocumentsPerEntry {
		return ErrDocumentLimit
	}
	return nil
}
