package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/risto-app/risto/internal/database"
	"github.com/risto-app/risto/internal/model"
	"github.com/risto-app/risto/internal/store"
)

// UserRepository is the credential store.
type UserRepository interface {
	Create(ctx context.Context, email, passwordHash string) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	MarkVerified(ctx context.Context, id int64) error
}

type SessionRepository interface {
	Create(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) (*model.Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	DeleteByUserExcept(ctx context.Context, userID int64, keepHash string) (int64, error)
}

type TokenRepository interface {
	Create(ctx context.Context, token string, userID int64, typ model.TokenType, expiresAt time.Time) (*model.VerificationToken, error)
	Get(ctx context.Context, token string) (*model.VerificationToken, error)
	Delete(ctx context.Context, token string) (bool, error)
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
}

// Repos groups the repositories bound to one connection or transaction.
type Repos struct {
	Users    UserRepository
	Sessions SessionRepository
	Tokens   TokenRepository
}

// Backend hands out repositories and runs multi-step mutations atomically.
type Backend interface {
	Repos() Repos
	InTx(ctx context.Context, fn func(r Repos) error) error
}

// SQLBackend is the Backend over the SQLite stores.
type SQLBackend struct {
	db *sql.DB
}

func NewSQLBackend(db *sql.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

func reposFor(q database.DBTX) Repos {
	return Repos{
		Users:    store.NewUserStore(q),
		Sessions: store.NewSessionStore(q),
		Tokens:   store.NewVerificationTokenStore(q),
	}
}

func (b *SQLBackend) Repos() Repos {
	return reposFor(b.db)
}

func (b *SQLBackend) InTx(ctx context.Context, fn func(r Repos) error) error {
	return database.WithTx(ctx, b.db, func(tx database.DBTX) error {
		return fn(reposFor(tx))
	})
}
