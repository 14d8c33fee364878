// Package postgres is a walletauth.UserDirectory on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	walletauth "github.com/MrEthical07/walletauth"
	"github.com/MrEthical07/walletauth/directory/migrations"
)

const uniqueViolation = "23505"

const userColumns = `id::text, email, wallet_address, is_verified, roles, last_login, created_at, updated_at`

// Directory stores users in PostgreSQL.
type Directory struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ walletauth.UserDirectory = (*Directory)(nil)

// New opens a pool for dsn and checks connectivity. Call [Directory.Migrate]
// before first use on a fresh database.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Directory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Directory{pool: pool, logger: logger.Named("directory")}, nil
}

// Migrate applies the embedded schema.
func (d *Directory) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(d.pool)
	defer db.Close()

	if err := migrations.Up(ctx, db, migrations.Postgres, d.logger); err != nil {
		return err
	}
	d.logger.Info("postgres directory migrated")
	return nil
}

// Close releases the pool.
func (d *Directory) Close() {
	d.pool.Close()
}

// Ping checks the database answers.
func (d *Directory) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (*walletauth.User, error) {
	return d.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email))
}

func (d *Directory) FindByWallet(ctx context.Context, address string) (*walletauth.User, error) {
	address = normalizeWallet(address)
	if address == "" {
		return nil, nil
	}
	return d.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE wallet_address = $1`, address)
}

func (d *Directory) FindByID(ctx context.Context, id string) (*walletauth.User, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}
	return d.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, parsed.String())
}

func (d *Directory) Create(ctx context.Context, in walletauth.CreateUserInput) (*walletauth.User, error) {
	roles := in.Roles
	if roles == nil {
		roles = []string{}
	}

	row := d.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, wallet_address, is_verified, roles, last_login)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+userColumns,
		uuid.NewString(),
		nullable(normalizeEmail(in.Email)),
		nullable(normalizeWallet(in.WalletAddress)),
		in.IsVerified,
		roles,
		nullableTime(in.LastLogin),
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

func (d *Directory) Update(ctx context.Context, id string, p walletauth.UserPatch) (*walletauth.User, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, walletauth.ErrUserNotFound
	}

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Email != nil {
		set("email", nullable(normalizeEmail(*p.Email)))
	}
	if p.WalletAddress != nil {
		set("wallet_address", nullable(normalizeWallet(*p.WalletAddress)))
	}
	if p.IsVerified != nil {
		set("is_verified", *p.IsVerified)
	}
	if p.LastLogin != nil {
		set("last_login", nullableTime(*p.LastLogin))
	}
	if p.Roles != nil {
		set("roles", p.Roles)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, parsed.String())

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), userColumns)

	u, err := scanUser(d.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, walletauth.ErrUserNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

func (d *Directory) findOne(ctx context.Context, query string, arg any) (*walletauth.User, error) {
	u, err := scanUser(d.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func scanUser(row pgx.Row) (*walletauth.User, error) {
	var (
		u             walletauth.User
		email, wallet *string
		lastLogin     *time.Time
	)
	if err := row.Scan(&u.ID, &email, &wallet, &u.IsVerified, &u.Roles, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if email != nil {
		u.Email = *email
	}
	if wallet != nil {
		u.WalletAddress = *wallet
	}
	if lastLogin != nil {
		u.LastLogin = lastLogin.UTC()
	}
	if u.Roles == nil {
		u.Roles = []string{}
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", walletauth.ErrUserConflict, pgErr.ConstraintName)
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeWallet(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
