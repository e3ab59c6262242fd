// Package accounts reads subscriber accounts. Balance mutations go through the ledger.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("accounts: not found")

type Account struct {
	UserID            string    `json:"user_id" db:"user_id"`
	Email             string    `json:"email" db:"email"`
	Role              string    `json:"role" db:"role"`
	TokenBalance      int64     `json:"token_balance" db:"token_balance"`
	TwilioPhoneNumber string    `json:"twilio_phone_number,omitempty" db:"twilio_phone_number"`
	VoiceAIEnabled    bool      `json:"voice_ai_enabled" db:"voice_ai_enabled"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

type Repository interface {
	Get(ctx context.Context, userID string) (Account, error)
	// FindByPhoneNumber returns the account that owns an inbound number.
	FindByPhoneNumber(ctx context.Context, phone string) (Account, error)
}

type PostgresRepo struct {
	db sqlx.QueryerContext
}

func NewPostgresRepo(db sqlx.QueryerContext) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const selectAccount = `
SELECT user_id, email, role, token_balance, COALESCE(twilio_phone_number, '') AS twilio_phone_number,
       voice_ai_enabled, created_at
FROM users
`

func (r *PostgresRepo) Get(ctx context.Context, userID string) (Account, error) {
	var a Account
	if err := sqlx.GetContext(ctx, r.db, &a, selectAccount+`WHERE user_id = $1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (r *PostgresRepo) FindByPhoneNumber(ctx context.Context, phone string) (Account, error) {
	var a Account
	if err := sqlx.GetContext(ctx, r.db, &a, selectAccount+`WHERE twilio_phone_number = $1`, phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("find account by phone: %w", err)
	}
	return a, nil
}

// RoleOf adapts a Repository to the auth refresh flow.
func RoleOf(repo Repository) func(ctx context.Context, userID string) (string, error) {
	return func(ctx context.Context, userID string) (string, error) {
		a, err := repo.Get(ctx, userID)
		if err != nil {
			return "", err
		}
		return a.Role, nil
	}
}

// MemoryRepo is an in-memory Repository for tests and local wiring.
type MemoryRepo struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewMemoryRepo(accounts ...Account) *MemoryRepo {
	r := &MemoryRepo{accounts: map[string]Account{}}
	for _, a := range accounts {
		r.Put(a)
	}
	return r
}

func (r *MemoryRepo) Put(a Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.UserID] = a
}

func (r *MemoryRepo) Get(_ context.Context, userID string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[userID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) FindByPhoneNumber(_ context.Context, phone string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if phone != "" && a.TwilioPhoneNumber == phone {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}
