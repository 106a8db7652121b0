// Package postgresdb is the PostgreSQL store of users and links.
// Uniqueness of usernames, emails and short codes is enforced by table
// constraints; access counts are incremented with a single UPDATE.
package postgresdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/patric-chuzhbe/minurl/internal/models"
	"github.com/patric-chuzhbe/minurl/internal/user"
)

const (
	uniqueViolationCode = "23505"

	usersUsernameConstraint = "users_username_key"
	usersEmailConstraint    = "users_email_key"
	linksShortCodeConstr    = "links_short_code_key"
)

// PostgresDB implements the user and link stores on top of database/sql with the pgx driver.
type PostgresDB struct {
	database          *sql.DB
	connectionTimeout time.Duration
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type initOptions struct {
	DBPreReset bool
}

// InitOption configures New.
type InitOption func(*initOptions)

// WithDBPreReset drops every table in the public schema before migrating.
// Meant for tests.
func WithDBPreReset(value bool) InitOption {
	return func(options *initOptions) {
		options.DBPreReset = value
	}
}

// New opens the database, applies the goose migrations from migrationsDir
// and returns the store.
func New(
	ctx context.Context,
	databaseDSN string,
	connectionTimeout time.Duration,
	migrationsDir string,
	optionsProto ...InitOption,
) (*PostgresDB, error) {
	options := &initOptions{
		DBPreReset: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	database, err := sql.Open("pgx", databaseDSN)
	if err != nil {
		return nil, err
	}

	result := &PostgresDB{
		database:          database,
		connectionTimeout: connectionTimeout,
	}

	if options.DBPreReset {
		if err := result.resetDB(ctx); err != nil {
			return nil,
				fmt.Errorf(
					"in internal/db/postgresdb/postgresdb.go/New(): error while `result.resetDB()` calling: %w",
					err,
				)
		}
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.SetDialect()` calling: %w",
				err,
			)
	}

	if err := goose.UpContext(ctx, result.database, migrationsDir); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.UpContext()` calling: %w",
				err,
			)
	}

	return result, nil
}

func (db *PostgresDB) queryerFor(transaction *sql.Tx) queryer {
	if transaction == nil {
		return db.database
	}

	return transaction
}

// CreateUser inserts usr and fills in its ID and CreatedAt.
// Constraint violations are reported as models.ErrEmailTaken or models.ErrUsernameTaken.
func (db *PostgresDB) CreateUser(ctx context.Context, usr *user.User, transaction *sql.Tx) (string, error) {
	row := db.queryerFor(transaction).QueryRowContext(
		ctx,
		`
			INSERT INTO users (username, email, password_hash)
				VALUES ($1, $2, $3)
				RETURNING id, created_at
		`,
		usr.Username,
		usr.Email,
		usr.PasswordHash,
	)
	err := row.Scan(&usr.ID, &usr.CreatedAt)
	if err != nil {
		switch uniqueViolation(err) {
		case usersEmailConstraint:
			return "", models.ErrEmailTaken
		case usersUsernameConstraint:
			return "", models.ErrUsernameTaken
		}
		return "", fmt.Errorf("in internal/db/postgresdb/postgresdb.go/CreateUser(): error while `row.Scan()` calling: %w", err)
	}

	return usr.ID, nil
}

// IsEmailRegistered reports whether a user with this email exists.
func (db *PostgresDB) IsEmailRegistered(ctx context.Context, email string, transaction *sql.Tx) (bool, error) {
	row := db.queryerFor(transaction).QueryRowContext(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower($1))`,
		email,
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}

	return exists, nil
}

// GetUserByEmail returns the user with this email or models.ErrUserNotFound.
func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	return db.getUser(ctx, `lower(email) = lower($1)`, email)
}

// GetUserByUsername returns the user with this username or models.ErrUserNotFound.
func (db *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*user.User, error) {
	return db.getUser(ctx, `username = $1`, username)
}

func (db *PostgresDB) getUser(ctx context.Context, condition string, arg string) (*user.User, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE `+condition,
		arg,
	)

	usr := &user.User{}
	err := row.Scan(&usr.ID, &usr.Username, &usr.Email, &usr.PasswordHash, &usr.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, err
	}

	return usr, nil
}

// InsertLink is the conditional insert of a link. A taken short code yields
// models.ErrShortCodeTaken; on success ID and CreatedAt are filled in.
func (db *PostgresDB) InsertLink(ctx context.Context, link *models.Link, transaction *sql.Tx) error {
	row := db.queryerFor(transaction).QueryRowContext(
		ctx,
		`
			INSERT INTO links (short_code, original_url, owner_id)
				VALUES ($1, $2, $3)
				ON CONFLICT (short_code) DO NOTHING
				RETURNING id, access_count, created_at
		`,
		link.ShortCode,
		link.OriginalURL,
		link.OwnerID,
	)
	err := row.Scan(&link.ID, &link.AccessCount, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || uniqueViolation(err) == linksShortCodeConstr {
			return models.ErrShortCodeTaken
		}
		return fmt.Errorf("in internal/db/postgresdb/postgresdb.go/InsertLink(): error while `row.Scan()` calling: %w", err)
	}

	return nil
}

// FindLinkByShortCode returns the link or models.ErrLinkNotFound.
func (db *PostgresDB) FindLinkByShortCode(ctx context.Context, shortCode string) (*models.Link, error) {
	row := db.database.QueryRowContext(
		ctx,
		`
			SELECT id, short_code, original_url, access_count, owner_id, created_at
				FROM links
				WHERE short_code = $1
		`,
		shortCode,
	)

	link := &models.Link{}
	err := row.Scan(&link.ID, &link.ShortCode, &link.OriginalURL, &link.AccessCount, &link.OwnerID, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrLinkNotFound
		}
		return nil, err
	}

	return link, nil
}

// GetLinksByOwner returns the owner's links ordered by creation time.
func (db *PostgresDB) GetLinksByOwner(ctx context.Context, ownerID string) ([]*models.Link, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`
			SELECT id, short_code, original_url, access_count, owner_id, created_at
				FROM links
				WHERE owner_id = $1
				ORDER BY created_at, id
		`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []*models.Link{}
	for rows.Next() {
		link := &models.Link{}
		err = rows.Scan(&link.ID, &link.ShortCode, &link.OriginalURL, &link.AccessCount, &link.OwnerID, &link.CreatedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, link)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// IncrementAccessCount atomically adds one to the access count and returns the new value.
func (db *PostgresDB) IncrementAccessCount(ctx context.Context, shortCode string) (int64, error) {
	row := db.database.QueryRowContext(
		ctx,
		`UPDATE links SET access_count = access_count + 1 WHERE short_code = $1 RETURNING access_count`,
		shortCode,
	)
	var accessCount int64
	if err := row.Scan(&accessCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, models.ErrLinkNotFound
		}
		return 0, err
	}

	return accessCount, nil
}

func (db *PostgresDB) GetNumberOfLinks(ctx context.Context) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM links`)
}

func (db *PostgresDB) GetNumberOfUsers(ctx context.Context) (int64, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM users`)
}

func (db *PostgresDB) count(ctx context.Context, query string) (int64, error) {
	var result int64
	if err := db.database.QueryRowContext(ctx, query).Scan(&result); err != nil {
		return 0, err
	}

	return result, nil
}

// CommitTransaction commits the given SQL transaction.
func (db *PostgresDB) CommitTransaction(transaction *sql.Tx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic occurred while committing transaction: %v", r)
		}
	}()

	return transaction.Commit()
}

// RollbackTransaction rolls back the given SQL transaction.
// Rolling back an already committed transaction returns sql.ErrTxDone.
func (db *PostgresDB) RollbackTransaction(transaction *sql.Tx) error {
	return transaction.Rollback()
}

// BeginTransaction starts a new SQL transaction. The caller commits or rolls it back.
func (db *PostgresDB) BeginTransaction() (*sql.Tx, error) {
	return db.database.Begin()
}

// Ping verifies connectivity within the configured timeout.
func (db *PostgresDB) Ping(ctx context.Context) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, db.connectionTimeout)
	defer cancel()

	return db.database.PingContext(ctxWithTimeout)
}

func (db *PostgresDB) Close() error {
	return db.database.Close()
}

func (db *PostgresDB) resetDB(ctx context.Context) error {
	_, err := db.database.ExecContext(
		ctx,
		`
			DO $$
			DECLARE
				r RECORD;
			BEGIN
				FOR r IN (SELECT tablename FROM pg_tables WHERE schemaname = 'public') LOOP
					EXECUTE 'DROP TABLE IF EXISTS ' || quote_ident(r.tablename) || ' CASCADE';
				END LOOP;
			END $$;
		`,
	)
	if err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/resetDB(): error while `db.database.ExecContext()` calling: %w",
			err,
		)
	}
	return nil
}

// uniqueViolation returns the name of the violated unique constraint, or "".
func uniqueViolation(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return pgErr.ConstraintName
	}

	return ""
}
