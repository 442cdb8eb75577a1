package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/types"
)

// DB opens the test database named by TEST_POSTGRES_DSN and migrates the
// schema. Tests that need a real database are skipped when the variable is
// unset so the rest of the suite stays runnable anywhere.
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping database test")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		t.Fatalf("enable uuid-ossp: %v", err)
	}
	if err := db.AutoMigrate(&types.User{}, &types.Document{}, &types.ETLJob{}, &types.SearchMetric{}); err != nil {
		t.Fatalf("migrate test schema: %v", err)
	}
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS "idx_etl_job_active_source"
		ON "etl_job" ("owner_user_id", "source_record_id")
		WHERE "status" NOT IN ('completed', 'failed')
	`).Error; err != nil {
		t.Fatalf("create active-source index: %v", err)
	}
	return db
}

// Tx wraps the test in a transaction that is rolled back on cleanup, so
// tests never leak rows into the shared database.
func Tx(t *testing.T) *gorm.DB {
	t.Helper()
	tx := DB(t).Begin()
	if tx.Error != nil {
		t.Fatalf("begin test transaction: %v", tx.Error)
	}
	t.Cleanup(func() {
		tx.Rollback()
	})
	return tx
}

// Logger returns a quiet logger for tests.
func Logger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("init test logger: %v", err)
	}
	return log
}

// SeedUser inserts an owner row and returns it.
func SeedUser(t *testing.T, tx *gorm.DB) *types.User {
	t.Helper()
	user := &types.User{
		ID:        uuid.New(),
		Email:     uuid.NewString() + "@example.test",
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}
