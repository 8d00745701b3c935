package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"deathmatter/pkg/domain"
)

const migrateLockID int64 = 51731029

// GormStore implements Store using GORM. Production runs on Postgres;
// any GORM dialect that supports composite primary keys works.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the Postgres DB and runs migrations under an advisory lock.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreWithDB wraps an already opened connection and migrates it.
func NewGormStoreWithDB(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("store: db is required")
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// DB exposes the underlying handle for health checks.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	for _, fk := range foreignKeys {
		if err := ensureForeignKey(tx, fk); err != nil {
			return err
		}
	}
	return nil
}

type foreignKey struct {
	table      string
	name       string
	definition string
}

var foreignKeys = []foreignKey{
	{"entries", "entries_user_id_fkey", "FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE"},
	{"entry_details", "entry_details_entry_id_fkey", "FOREIGN KEY (entry_id) REFERENCES entries(id) ON DELETE CASCADE"},
	{"documents", "documents_entry_id_fkey", "FOREIGN KEY (entry_id) REFERENCES entries(id) ON DELETE CASCADE"},
	{"documents", "documents_user_id_fkey", "FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE"},
	{"chats", "chats_user_id_fkey", "FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE"},
	{"chats", "chats_entry_id_fkey", "FOREIGN KEY (entry_id) REFERENCES entries(id) ON DELETE CASCADE"},
	{"chats", "chats_document_fkey", "FOREIGN KEY (document_id, document_created_at) REFERENCES documents(id, created_at) ON DELETE SET NULL"},
	{"messages", "messages_chat_id_fkey", "FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE"},
	{"votes", "votes_chat_id_fkey", "FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE"},
	{"votes", "votes_message_id_fkey", "FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE"},
	{"generated_images", "generated_images_entry_id_fkey", "FOREIGN KEY (entry_id) REFERENCES entries(id) ON DELETE CASCADE"},
	{"saved_quotes", "saved_quotes_entry_id_fkey", "FOREIGN KEY (entry_id) REFERENCES entries(id) ON DELETE CASCADE"},
}

func ensureForeignKey(tx *gorm.DB, fk foreignKey) error {
	stmt := fmt.Sprintf(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = '%s'
				AND constraint_name = '%s'
			) THEN
				ALTER TABLE %s ADD CONSTRAINT %s %s;
			END IF;
		END $$;
	`, fk.table, fk.name, fk.table, fk.name, fk.definition)
	if err := tx.Exec(stmt).Error; err != nil {
		return fmt.Errorf("ensure %s: %w", fk.name, err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// take runs q and maps gorm.ErrRecordNotFound to ok=false.
func take[T any](q *gorm.DB, dest *T) (bool, error) {
	if err := q.Take(dest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func exists(tx *gorm.DB, model any, query string, args ...any) (bool, error) {
	var count int64
	if err := tx.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// EnsureUser inserts the user unless a row with the same id exists.
func (s *GormStore) EnsureUser(ctx context.Context, u domain.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
		return fmt.Errorf("store: ensure user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	ok, err := take(s.db.WithContext(ctx).Where("id = ?", id), &model)
	if err != nil || !ok {
		return domain.User{}, false, wrap("get user", err)
	}
	return userFromModel(model), true, nil
}

// SaveEntry creates or updates an entry. The owning user must exist.
func (s *GormStore) SaveEntry(ctx context.Context, e domain.Entry) error {
	model := entryToModel(e)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := exists(tx, &UserModel{}, "id = ?", e.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMissingReference
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "date_of_birth", "date_of_death", "location_born", "location_died",
				"cause_of_death", "image_key", "updated_at",
			}),
		}).Create(&model).Error
	})
	return wrap("save entry", err)
}

// GetEntry returns an entry by ID.
func (s *GormStore) GetEntry(ctx context.Context, id string) (domain.Entry, bool, error) {
	var model EntryModel
	ok, err := take(s.db.WithContext(ctx).Where("id = ?", id), &model)
	if err != nil || !ok {
		return domain.Entry{}, false, wrap("get entry", err)
	}
	return entryFromModel(model), true, nil
}

// ListEntriesByUser returns the user's entries, newest first.
func (s *GormStore) ListEntriesByUser(ctx context.Context, userID string) ([]domain.Entry, error) {
	var models []EntryModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, wrap("list entries", err)
	}
	items := make([]domain.Entry, 0, len(models))
	for _, m := range models {
		items = append(items, entryFromModel(m))
	}
	return items, nil
}

// DeleteEntry removes an entry and everything hanging off it.
func (s *GormStore) DeleteEntry(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chatIDs []string
		if err := tx.Model(&ChatModel{}).Where("entry_id = ?", id).Pluck("id", &chatIDs).Error; err != nil {
			return err
		}
		if len(chatIDs) > 0 {
			if err := tx.Where("chat_id IN ?", chatIDs).Delete(&VoteModel{}).Error; err != nil {
				return err
			}
			if err := tx.Where("chat_id IN ?", chatIDs).Delete(&MessageModel{}).Error; err != nil {
				return err
			}
		}
		for _, model := range []any{&ChatModel{}, &DocumentModel{}, &GeneratedImageModel{}, &SavedQuoteModel{}, &EntryDetailsModel{}} {
			if err := tx.Where("entry_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", id).Delete(&EntryModel{}).Error
	})
	return wrap("delete entry", err)
}

// SaveEntryDetails upserts the details row of an entry.
func (s *GormStore) SaveEntryDetails(ctx context.Context, d domain.EntryDetails) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	model := detailsToModel(d)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := exists(tx, &EntryModel{}, "id = ?", d.EntryID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMissingReference
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entry_id"}},
			UpdateAll: true,
		}).Create(&model).Error
	})
	return wrap("save entry details", err)
}

// GetEntryDetails returns the details row of an entry.
func (s *GormStore) GetEntryDetails(ctx context.Context, entryID string) (domain.EntryDetails, bool, error) {
	var model EntryDetailsModel
	ok, err := take(s.db.WithContext(ctx).Where("entry_id = ?", entryID), &model)
	if err != nil || !ok {
		return domain.EntryDetails{}, false, wrap("get entry details", err)
	}
	return detailsFromModel(model), true, nil
}

// wrap prefixes err with the operation; sentinel errors stay matchable via errors.Is.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("store: %s: %w", op, err)
}
