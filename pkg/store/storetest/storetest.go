// Package storetest opens throwaway SQLite-backed stores for tests.
package storetest

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"deathmatter/pkg/store"
)

// New returns a migrated GormStore backed by a SQLite file in t.TempDir().
func New(t testing.TB) *store.GormStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "deathmatter.db") + "?_foreign_keys=off"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	s, err := store.NewGormStoreWithDB(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

// CountRows returns the number of rows in table.
func CountRows(t testing.TB, s *store.GormStore, table string) int64 {
	t.Helper()
	var n int64
	if err := s.DB().Table(table).Count(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
