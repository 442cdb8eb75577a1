package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/types"
	"github.com/talentwise/assessment-rag-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	host := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	port := utils.GetEnv("POSTGRES_PORT", "5432", log)
	user := utils.GetEnv("POSTGRES_USER", "postgres", log)
	password := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	name := utils.GetEnv("POSTGRES_NAME", "assessment_rag", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)

	log.Info("Connecting to Postgres...")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: db, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.User{},
		&types.Document{},
		&types.ETLJob{},
		&types.SearchMetric{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// Deleting a subject cascades to their documents and jobs.
	constraints := []struct {
		name string
		ddl  string
	}{
		{"fk_document_owner_user_id", `
			ALTER TABLE "document"
			ADD CONSTRAINT "fk_document_owner_user_id"
			FOREIGN KEY ("owner_user_id")
			REFERENCES "user"("id")
			ON DELETE CASCADE
		`},
		{"fk_etl_job_owner_user_id", `
			ALTER TABLE "etl_job"
			ADD CONSTRAINT "fk_etl_job_owner_user_id"
			FOREIGN KEY ("owner_user_id")
			REFERENCES "user"("id")
			ON DELETE CASCADE
		`},
	}
	for _, c := range constraints {
		var exists bool
		if err := s.db.Raw(
			`SELECT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = ?)`, c.name,
		).Scan(&exists).Error; err != nil {
			return fmt.Errorf("check constraint %s: %w", c.name, err)
		}
		if exists {
			continue
		}
		if err := s.db.Exec(c.ddl).Error; err != nil {
			return fmt.Errorf("add %s: %w", c.name, err)
		}
	}

	// At most one live job per (owner, source record). Terminal rows fall out
	// of the index, so the application-level check is backed by the database
	// even across processes.
	if err := s.db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS "idx_etl_job_active_source"
		ON "etl_job" ("owner_user_id", "source_record_id")
		WHERE "status" NOT IN ('completed', 'failed')
	`).Error; err != nil {
		return fmt.Errorf("add idx_etl_job_active_source: %w", err)
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
