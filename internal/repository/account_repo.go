package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"authgate/internal/domain"
)

// ErrDuplicateEmail señala la violación del índice único de email.
var ErrDuplicateEmail = errors.New("duplicate email")

// AccountRepository define el contrato de persistencia para cuentas.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) (domain.Account, error)
	GetByID(ctx context.Context, id int64) (domain.Account, error)
	GetByEmail(ctx context.Context, email string) (domain.Account, error)
	Update(ctx context.Context, account domain.Account) error
}

// PgAccountRepository implementa AccountRepository usando pgxpool.
type PgAccountRepository struct {
	pool *pgxpool.Pool
}

func NewPgAccountRepository(pool *pgxpool.Pool) *PgAccountRepository {
	return &PgAccountRepository{pool: pool}
}

const accountColumns = `id, email, password_hash, is_active, is_verified, is_superuser, COALESCE(name, ''), picture, created_at`

func (r *PgAccountRepository) Create(ctx context.Context, account domain.Account) (domain.Account, error) {
	const query = `
		INSERT INTO users (email, password_hash, is_active, is_verified, is_superuser, name, picture, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		account.Email,
		account.PasswordHash,
		account.IsActive,
		account.IsVerified,
		account.IsSuperuser,
		account.Name,
		account.Picture,
		account.CreatedAt,
	).Scan(&account.ID)
	if isUniqueViolation(err) {
		return domain.Account{}, ErrDuplicateEmail
	}
	if err != nil {
		return domain.Account{}, err
	}
	return account, nil
}

func (r *PgAccountRepository) GetByID(ctx context.Context, id int64) (domain.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM users WHERE id = $1`
	return r.scanAccount(r.pool.QueryRow(ctx, query, id))
}

func (r *PgAccountRepository) GetByEmail(ctx context.Context, email string) (domain.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM users WHERE email = $1`
	return r.scanAccount(r.pool.QueryRow(ctx, query, email))
}

func (r *PgAccountRepository) Update(ctx context.Context, account domain.Account) error {
	const query = `
		UPDATE users
		SET email = $2,
		    password_hash = $3,
		    is_active = $4,
		    is_verified = $5,
		    is_superuser = $6,
		    name = NULLIF($7, ''),
		    picture = $8
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.IsActive,
		account.IsVerified,
		account.IsSuperuser,
		account.Name,
		account.Picture,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

type row interface {
	Scan(dest ...any) error
}

func (r *PgAccountRepository) scanAccount(rw row) (domain.Account, error) {
	var a domain.Account
	err := rw.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.IsActive,
		&a.IsVerified,
		&a.IsSuperuser,
		&a.Name,
		&a.Picture,
		&a.CreatedAt,
	)
	if err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
