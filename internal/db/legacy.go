package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talentwise/assessment-rag-backend/internal/logger"
	"github.com/talentwise/assessment-rag-backend/internal/utils"
)

// NewLegacyPool opens a pgx pool against the legacy assessment schema. The
// extraction tier reads through this pool so its sessions are acquired and
// released per query, independent of the gorm connection pool.
func NewLegacyPool(ctx context.Context, log *logger.Logger) (*pgxpool.Pool, error) {
	host := utils.GetEnv("LEGACY_POSTGRES_HOST", "localhost", log)
	port := utils.GetEnv("LEGACY_POSTGRES_PORT", "5432", log)
	user := utils.GetEnv("LEGACY_POSTGRES_USER", "postgres", log)
	password := utils.GetEnv("LEGACY_POSTGRES_PASSWORD", "", log)
	name := utils.GetEnv("LEGACY_POSTGRES_NAME", "assessment_legacy", log)
	maxConns := utils.GetEnvAsInt("LEGACY_POSTGRES_MAX_CONNS", 10, log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&pool_max_conns=%d",
		user, password, host, port, name, maxConns)

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse legacy dsn: %w", err)
	}
	// Extraction traffic is bursty; idle sessions against the legacy server
	// are released instead of held open between runs.
	cfg.MaxConnIdleTime = utils.GetEnvAsDuration("LEGACY_POSTGRES_MAX_CONN_IDLE", 5*time.Minute, log)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to legacy postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping legacy postgres: %w", err)
	}
	log.Info("Connected to legacy assessment schema", "host", host, "database", name)
	return pool, nil
}
