// Package repotest opens throwaway databases for tests.
package repotest

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/spigell/hh-analyzer/internal/repository"
)

// Open returns a migrated SQLite database living in the test's temp dir.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := repository.Open(repository.Config{
		Driver: repository.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}
