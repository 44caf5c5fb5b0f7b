// Package store persists server profiles (host, credentials, TLS options)
// in a SQLite database under the user config directory. Passwords are
// encrypted at rest.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/YunoHost/cli/internal/config"
	storecrypto "github.com/YunoHost/cli/internal/config/store/crypto"
)

const defaultBusyTimeout = 5 * time.Second

// Options describes parameters for opening the profile store.
type Options struct {
	DBPath   string // Optional override for servers.db path (primarily for tests)
	ReadOnly bool   // Open database in read-only mode
}

// Store provides access to the server profile database.
type Store struct {
	db            *sql.DB
	dbPath        string
	readOnly      bool
	encryptionKey []byte // AES-256 key for passwords at rest
}

// NotFoundError indicates a requested record does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// Open initialises the profile store, creating the database and its
// encryption key on first use.
func Open(opts Options) (*Store, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		paths, err := config.EnsurePaths()
		if err != nil {
			return nil, fmt.Errorf("config: ensure directories: %w", err)
		}
		dbPath = paths.ServersDB
	}

	dsn := dbPath
	if opts.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("config: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := applyPragmas(ctx, db, opts.ReadOnly); err != nil {
		db.Close()
		return nil, err
	}

	if !opts.ReadOnly {
		if err := applySchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	// Load or create the password encryption key.
	//
	// A new key is only created when no encrypted passwords exist yet: if
	// the key file is missing but the database already holds enc:v1: rows,
	// opening fails rather than rendering the stored passwords unreadable
	// under a freshly generated key.
	keyPath := storecrypto.KeyPath(dbPath)
	encKey, err := storecrypto.LoadKey(keyPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	if encKey == nil && !opts.ReadOnly {
		hasEnc, checkErr := hasEncryptedPasswords(ctx, db)
		if checkErr != nil {
			db.Close()
			return nil, checkErr
		}
		if hasEnc {
			db.Close()
			return nil, fmt.Errorf("config: encryption key %s is missing but the database already contains encrypted passwords; restore the key file or remove the stored servers", keyPath)
		}
		encKey, err = storecrypto.CreateKey(keyPath)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Store{
		db:            db,
		dbPath:        dbPath,
		readOnly:      opts.ReadOnly,
		encryptionKey: encKey,
	}, nil
}

// Close finalises the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying sql.DB handle for internal usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the filesystem path of the backing database.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("config: rollback failed after %v: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

func hasEncryptedPasswords(ctx context.Context, db *sql.DB) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM servers WHERE password LIKE ?`,
		storecrypto.EncPrefix+"%",
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("config: check encrypted passwords: %w", err)
	}
	return count > 0, nil
}
