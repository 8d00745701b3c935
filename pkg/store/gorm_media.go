package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"deathmatter/pkg/domain"
)

// SaveGeneratedImages inserts rendered images in one batch.
func (s *GormStore) SaveGeneratedImages(ctx context.Context, images []domain.GeneratedImage) error {
	if len(images) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]GeneratedImageModel, 0, len(images))
	entryIDs := make(map[string]struct{})
	for _, img := range images {
		if img.CreatedAt.IsZero() {
			img.CreatedAt = now
		}
		if img.UpdatedAt.IsZero() {
			img.UpdatedAt = img.CreatedAt
		}
		if img.Status == "" {
			img.Status = domain.ImageGenerated
		}
		models = append(models, imageToModel(img))
		entryIDs[img.EntryID] = struct{}{}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for entryID := range entryIDs {
			ok, err := exists(tx, &EntryModel{}, "id = ?", entryID)
			if err != nil {
				return err
			}
			if !ok {
				return ErrMissingReference
			}
		}
		return tx.Create(&models).Error
	})
	return wrap("save images", err)
}

// GetImage returns a generated image by ID.
func (s *GormStore) GetImage(ctx context.Context, id string) (domain.GeneratedImage, bool, error) {
	var model GeneratedImageModel
	ok, err := take(s.db.WithContext(ctx).Where("id = ?", id), &model)
	if err != nil || !ok {
		return domain.GeneratedImage{}, false, wrap("get image", err)
	}
	return imageFromModel(model), true, nil
}

// ListImagesByEntry returns the user's images for an entry, newest first.
func (s *GormStore) ListImagesByEntry(ctx context.Context, userID, entryID string) ([]domain.GeneratedImage, error) {
	var models []GeneratedImageModel
	if err := s.db.WithContext(ctx).Where("user_id = ? AND entry_id = ?", userID, entryID).
		Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, wrap("list images", err)
	}
	items := make([]domain.GeneratedImage, 0, len(models))
	for _, m := range models {
		items = append(items, imageFromModel(m))
	}
	return items, nil
}

// UpdateImageStatus records the latest render state reported upstream.
func (s *GormStore) UpdateImageStatus(ctx context.Context, id string, status domain.ImageStatus, imageURL string) error {
	updates := map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	}
	if imageURL != "" {
		updates["image_url"] = imageURL
	}
	err := s.db.WithContext(ctx).Model(&GeneratedImageModel{}).Where("id = ?", id).Updates(updates).Error
	return wrap("update image", err)
}

// DeleteImage removes a generated image.
func (s *GormStore) DeleteImage(ctx context.Context, id string) error {
	return wrap("delete image", s.db.WithContext(ctx).Where("id = ?", id).Delete(&GeneratedImageModel{}).Error)
}

// SaveQuote stores a quote against an entry.
func (s *GormStore) SaveQuote(ctx context.Context, q domain.SavedQuote) error {
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	model := quoteToModel(q)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := exists(tx, &EntryModel{}, "id = ? AND user_id = ?", q.EntryID, q.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMissingReference
		}
		return tx.Create(&model).Error
	})
	return wrap("save quote", err)
}

// GetSavedQuote returns a saved quote by ID.
func (s *GormStore) GetSavedQuote(ctx context.Context, id string) (domain.SavedQuote, bool, error) {
	var model SavedQuoteModel
	ok, err := take(s.db.WithContext(ctx).Where("id = ?", id), &model)
	if err != nil || !ok {
		return domain.SavedQuote{}, false, wrap("get saved quote", err)
	}
	return quoteFromModel(model), true, nil
}

// ListSavedQuotes returns the user's saved quotes for an entry, newest first.
func (s *GormStore) ListSavedQuotes(ctx context.Context, userID, entryID string) ([]domain.SavedQuote, error) {
	var models []SavedQuoteModel
	if err := s.db.WithContext(ctx).Where("user_id = ? AND entry_id = ?", userID, entryID).
		Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, wrap("list saved quotes", err)
	}
	items := make([]domain.SavedQuote, 0, len(models))
	for _, m := range models {
		items = append(items, quoteFromModel(m))
	}
	return items, nil
}

// DeleteSavedQuote removes a saved quote.
func (s *GormStore) DeleteSavedQuote(ctx context.Context, id string) error {
	return wrap("delete saved quote", s.db.WithContext(ctx).Where("id = ?", id).Delete(&SavedQuoteModel{}).Error)
}
