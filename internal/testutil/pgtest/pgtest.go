//go:build integration

// Package pgtest starts a throwaway Postgres with the embedded schema applied.
package pgtest

import (
	"context"
	"testing"
	"time"

	"leadgen-platform/internal/migrations"
	"leadgen-platform/pkg/utils"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Open creates a Postgres container, migrates it and returns a connected handle.
func Open(t *testing.T) *sqlx.DB {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("leadgen_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	db, err := utils.OpenPostgres(ctx, "pgx", connStr, utils.PostgresPoolConfig{MaxOpenConns: 20})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := migrations.Up(ctx, db, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// CreateUser inserts an account with the given balance and returns its id.
func CreateUser(t *testing.T, db *sqlx.DB, balance int64) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (user_id, email, token_balance) VALUES ($1, $2, $3)`,
		id, id+"@example.test", balance)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

// SetPrice upserts a pricing row.
func SetPrice(t *testing.T, db *sqlx.DB, actionType string, cost int64) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
INSERT INTO token_pricing (action_type, token_cost) VALUES ($1, $2)
ON CONFLICT (action_type) DO UPDATE SET token_cost = EXCLUDED.token_cost`, actionType, cost)
	if err != nil {
		t.Fatalf("set price: %v", err)
	}
}
