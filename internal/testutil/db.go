// Package testutil provides testing utilities for query metrics.
package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/Sternrassler/query-metrics/pkg/querysource"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Item is the model used by test databases.
type Item struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:64"`
}

var dbSeq atomic.Int64

// NewDB opens a private in-memory sqlite database reporting queries under
// alias, migrates Item and seeds it with the given names.
// Migration and seeding run outside any counter scope.
func NewDB(t *testing.T, alias string, names ...string) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Use(querysource.NewGormPlugin(alias, zerolog.Nop())); err != nil {
		t.Fatalf("Failed to install query source: %v", err)
	}

	if err := db.AutoMigrate(&Item{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	for _, name := range names {
		if err := db.WithContext(context.Background()).Create(&Item{Name: name}).Error; err != nil {
			t.Fatalf("Failed to seed %q: %v", name, err)
		}
	}

	return db
}
