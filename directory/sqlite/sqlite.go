// Package sqlite is a single-node walletauth.UserDirectory on an embedded
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	walletauth "github.com/MrEthical07/walletauth"
	"github.com/MrEthical07/walletauth/directory/migrations"
)

const userColumns = `id, email, wallet_address, is_verified, roles, last_login, created_at, updated_at`

const timeLayout = time.RFC3339Nano

// Directory stores users in SQLite. Uniqueness of email and wallet address
// is enforced by the schema.
type Directory struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ walletauth.UserDirectory = (*Directory)(nil)

// Open opens path (":memory:" for a private in-memory database), applies
// migrations and returns a ready directory.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Directory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("directory")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One writer at a time; an in-memory database also lives on a single
	// connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if err := migrations.Up(ctx, db, migrations.SQLite, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sqlite directory ready", zap.String("path", path))
	return &Directory{db: db, logger: logger, now: time.Now}, nil
}

// Close releases the database.
func (d *Directory) Close() error {
	return d.db.Close()
}

// Ping checks the database answers.
func (d *Directory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (*walletauth.User, error) {
	return d.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, normalizeEmail(email))
}

func (d *Directory) FindByWallet(ctx context.Context, address string) (*walletauth.User, error) {
	address = normalizeWallet(address)
	if address == "" {
		return nil, nil
	}
	return d.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE wallet_address = ?`, address)
}

func (d *Directory) FindByID(ctx context.Context, id string) (*walletauth.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return d.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (d *Directory) Create(ctx context.Context, in walletauth.CreateUserInput) (*walletauth.User, error) {
	roles, err := encodeRoles(in.Roles)
	if err != nil {
		return nil, err
	}
	now := d.now().UTC().Format(timeLayout)

	row := d.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, wallet_address, is_verified, roles, last_login, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING `+userColumns,
		uuid.NewString(),
		nullString(normalizeEmail(in.Email)),
		nullString(normalizeWallet(in.WalletAddress)),
		in.IsVerified,
		roles,
		nullTime(in.LastLogin),
		now,
		now,
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

func (d *Directory) Update(ctx context.Context, id string, p walletauth.UserPatch) (*walletauth.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, walletauth.ErrUserNotFound
	}

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if p.Email != nil {
		set("email", nullString(normalizeEmail(*p.Email)))
	}
	if p.WalletAddress != nil {
		set("wallet_address", nullString(normalizeWallet(*p.WalletAddress)))
	}
	if p.IsVerified != nil {
		set("is_verified", *p.IsVerified)
	}
	if p.LastLogin != nil {
		set("last_login", nullTime(*p.LastLogin))
	}
	if p.Roles != nil {
		roles, err := encodeRoles(p.Roles)
		if err != nil {
			return nil, err
		}
		set("roles", roles)
	}
	set("updated_at", d.now().UTC().Format(timeLayout))
	args = append(args, id)

	row := d.db.QueryRowContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ? RETURNING `+userColumns,
		args...,
	)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, walletauth.ErrUserNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

func (d *Directory) findOne(ctx context.Context, query string, arg any) (*walletauth.User, error) {
	u, err := scanUser(d.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func scanUser(row *sql.Row) (*walletauth.User, error) {
	var (
		u                    walletauth.User
		email, wallet        sql.NullString
		roles                string
		lastLogin            sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&u.ID, &email, &wallet, &u.IsVerified, &roles, &lastLogin, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.Email = email.String
	u.WalletAddress = wallet.String

	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	if u.Roles == nil {
		u.Roles = []string{}
	}

	var err error
	if lastLogin.Valid {
		if u.LastLogin, err = time.Parse(timeLayout, lastLogin.String); err != nil {
			return nil, fmt.Errorf("decode last_login: %w", err)
		}
	}
	if u.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if u.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
	}
	return &u, nil
}

// mapError turns unique violations into walletauth.ErrUserConflict.
func mapError(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", walletauth.ErrUserConflict, err)
		}
	}
	return err
}

func encodeRoles(roles []string) (string, error) {
	if roles == nil {
		roles = []string{}
	}
	b, err := json.Marshal(roles)
	if err != nil {
		return "", fmt.Errorf("encode roles: %w", err)
	}
	return string(b), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeWallet(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}
