package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"deathmatter/pkg/domain"
)

// CreateDocument inserts a new document version. The entry must exist and
// belong to the document's user.
func (s *GormStore) CreateDocument(ctx context.Context, d domain.Document) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	model := documentToModel(d)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := exists(tx, &EntryModel{}, "id = ? AND user_id = ?", d.EntryID, d.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMissingReference
		}
		return tx.Create(&model).Error
	})
	return wrap("create document", err)
}

// GetDocument returns the most recent version of a document.
func (s *GormStore) GetDocument(ctx context.Context, id string) (domain.Document, bool, error) {
	var model DocumentModel
	ok, err := take(s.db.WithContext(ctx).Where("id = ?", id).Order("created_at DESC"), &model)
	if err != nil || !ok {
		return domain.Document{}, false, wrap("get document", err)
	}
	return documentFromModel(model), true, nil
}

// GetDocumentVersion returns the document row with the exact composite key.
func (s *GormStore) GetDocumentVersion(ctx context.Context, id string, createdAt time.Time) (domain.Document, bool, error) {
	var model DocumentModel
	ok, err := take(s.db.WithContext(ctx).Where("id = ? AND created_at = ?", id, createdAt.UTC()), &model)
	if err != nil || !ok {
		return domain.Document{}, false, wrap("get document version", err)
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsByEntry returns the entry's documents, newest first.
func (s *GormStore) ListDocumentsByEntry(ctx context.Context, entryID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).Where("entry_id = ?", entryID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, wrap("list documents", err)
	}
	items := make([]domain.Document, 0, len(models))
	for _, m := range models {
		items = append(items, documentFromModel(m))
	}
	return items, nil
}

// LatestDocumentByEntry returns the newest document of an entry.
func (s *GormStore) LatestDocumentByEntry(ctx context.Context, entryID string) (domain.Document, bool, error) {
	var model DocumentModel
	ok, err := take(s.db.WithContext(ctx).Where("entry_id = ?", entryID).Order("created_at DESC"), &model)
	if err != nil || !ok {
		return domain.Document{}, false, wrap("latest document", err)
	}
	return documentFromModel(model), true, nil
}

// CountDocumentsByEntry counts distinct documents of an entry.
func (s *GormStore) CountDocumentsByEntry(ctx context.Context, entryID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&DocumentModel{}).Where("entry_id = ?", entryID).Distinct("id").Count(&count).Error; err != nil {
		return 0, wrap("count documents", err)
	}
	return int(count), nil
}

// UpdateDocumentContent overwrites the content in a single UPDATE statement.
// It reports false when no row matched.
func (s *GormStore) UpdateDocumentContent(ctx context.Context, id, content string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&DocumentModel{}).Where("id = ?", id).Update("content", content)
	if res.Error != nil {
		return false, wrap("update document", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteDocument removes every version of a document. Chats pointing at it
// are detached.
func (s *GormStore) DeleteDocument(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ChatModel{}).Where("document_id = ?", id).
			Updates(map[string]any{"document_id": nil, "document_created_at": nil}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&DocumentModel{}).Error
	})
	return wrap("delete document", err)
}

// CreateChat inserts a chat. Its user and entry must exist, and so must the
// referenced document version when one is set.
func (s *GormStore) CreateChat(ctx context.Context, c domain.Chat) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Visibility == "" {
		c.Visibility = domain.VisibilityPrivate
	}
	model := chatToModel(c)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := exists(tx, &EntryModel{}, "id = ?", c.EntryID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMissingReference
		}
		if ok, err = exists(tx, &UserModel{}, "id = ?", c.UserID); err != nil {
			return err
		} else if !ok {
			return ErrMissingReference
		}
		if c.DocumentID != nil {
			if c.DocumentCreatedAt == nil {
				return ErrMissingReference
			}
			ok, err := exists(tx, &DocumentModel{}, "id = ? AND created_at = ?", *c.DocumentID, c.DocumentCreatedAt.UTC())
			if err != nil {
				return err
			}
			if !ok {
				return ErrMissingReference
			}
		}
		return tx.Create(&model).Error
	})
	return wrap("create chat", err)
}

// GetChat returns a chat by ID.
func (s *GormStore) GetChat(ctx context.Context, id string) (domain.Chat, bool, error) {
	var model ChatModel
	ok, err := take(s.db.WithContext(ctx).Where("id = ?", id), &model)
	if err != nil || !ok {
		return domain.Chat{}, false, wrap("get chat", err)
	}
	return chatFromModel(model), true, nil
}

// GetChatByDocument returns the user's chat attached to a document version.
func (s *GormStore) GetChatByDocument(ctx context.Context, documentID string, documentCreatedAt time.Time, userID string) (domain.Chat, bool, error) {
	var model ChatModel
	q := s.db.WithContext(ctx).
		Where("document_id = ? AND document_created_at = ? AND user_id = ?", documentID, documentCreatedAt.UTC(), userID).
		Order("created_at DESC")
	ok, err := take(q, &model)
	if err != nil || !ok {
		return domain.Chat{}, false, wrap("get chat by document", err)
	}
	return chatFromModel(model), true, nil
}

// ListChatsByUser pages through a user's chats, newest first. StartingAfter
// returns chats newer than the cursor, EndingBefore older ones.
func (s *GormStore) ListChatsByUser(ctx context.Context, q ChatPageQuery) (ChatPage, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	db := s.db.WithContext(ctx)
	query := db.Where("user_id = ?", q.UserID)
	cursorID, op := q.StartingAfter, ">"
	if cursorID == "" && q.EndingBefore != "" {
		cursorID, op = q.EndingBefore, "<"
	}
	if cursorID != "" {
		var cursor ChatModel
		ok, err := take(db.Where("id = ?", cursorID), &cursor)
		if err != nil {
			return ChatPage{}, wrap("list chats", err)
		}
		if !ok {
			return ChatPage{}, wrap("list chats", ErrCursorNotFound)
		}
		query = query.Where("created_at "+op+" ?", cursor.CreatedAt)
	}
	var models []ChatModel
	if err := query.Order("created_at DESC").Limit(limit + 1).Find(&models).Error; err != nil {
		return ChatPage{}, wrap("list chats", err)
	}
	page := ChatPage{HasMore: len(models) > limit}
	if page.HasMore {
		models = models[:limit]
	}
	page.Chats = make([]domain.Chat, 0, len(models))
	for _, m := range models {
		page.Chats = append(page.Chats, chatFromModel(m))
	}
	return page, nil
}

// UpdateChatVisibility sets the chat's visibility flag.
func (s *GormStore) UpdateChatVisibility(ctx context.Context, id string, visibility domain.Visibility) error {
	err := s.db.WithContext(ctx).Model(&ChatModel{}).Where("id = ?", id).Update("visibility", string(visibility)).Error
	return wrap("update chat visibility", err)
}

// DeleteChat removes votes, messages and the chat in one transaction.
func (s *GormStore) DeleteChat(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&VoteModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", id).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&ChatModel{}).Error
	})
	return wrap("delete chat", err)
}

// SaveMessages appends a batch of messages. Existing rows are never touched;
// a duplicate id fails the whole batch.
func (s *GormStore) SaveMessages(ctx context.Context, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	models := make([]MessageModel, 0, len(msgs))
	chatIDs := make(map[string]struct{})
	base := time.Now().UTC()
	for i, msg := range msgs {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = base.Add(time.Duration(i) * time.Microsecond)
		}
		model, err := messageToModel(msg)
		if err != nil {
			return wrap("encode message", err)
		}
		models = append(models, model)
		chatIDs[msg.ChatID] = struct{}{}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for chatID := range chatIDs {
			ok, err := exists(tx, &ChatModel{}, "id = ?", chatID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrMissingReference
			}
		}
		return tx.Create(&models).Error
	})
	return wrap("save messages", err)
}

// ListMessagesByChat returns the transcript in creation order.
func (s *GormStore) ListMessagesByChat(ctx context.Context, chatID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).
		Order("created_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, wrap("list messages", err)
	}
	items := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msg, err := messageFromModel(m)
		if err != nil {
			return nil, wrap("decode message", err)
		}
		items = append(items, msg)
	}
	return items, nil
}

// CountUserMessagesSince counts user-role messages across all of the user's chats.
func (s *GormStore) CountUserMessagesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&MessageModel{}).
		Joins("JOIN chats ON chats.id = messages.chat_id").
		Where("chats.user_id = ? AND messages.role = ? AND messages.created_at >= ?", userID, string(domain.RoleUser), since.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, wrap("count user messages", err)
	}
	return int(count), nil
}

// DeleteMessagesAfter trims a transcript back to ts (inclusive of later rows).
func (s *GormStore) DeleteMessagesAfter(ctx context.Context, chatID string, ts time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&MessageModel{}).Where("chat_id = ? AND created_at >= ?", chatID, ts.UTC()).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("chat_id = ? AND message_id IN ?", chatID, ids).Delete(&VoteModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&MessageModel{}).Error
	})
	return wrap("delete messages", err)
}

// VoteMessage records or flips a vote on a message.
func (s *GormStore) VoteMessage(ctx context.Context, v domain.Vote) error {
	model := VoteModel{ChatID: v.ChatID, MessageID: v.MessageID, IsUpvoted: v.IsUpvoted}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_upvoted"}),
	}).Create(&model).Error
	return wrap("vote message", err)
}

// ListVotesByChat returns all votes cast in a chat.
func (s *GormStore) ListVotesByChat(ctx context.Context, chatID string) ([]domain.Vote, error) {
	var models []VoteModel
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Find(&models).Error; err != nil {
		return nil, wrap("list votes", err)
	}
	items := make([]domain.Vote, 0, len(models))
	for _, m := range models {
		items = append(items, domain.Vote{ChatID: m.ChatID, MessageID: m.MessageID, IsUpvoted: m.IsUpvoted})
	}
	return items, nil
}
