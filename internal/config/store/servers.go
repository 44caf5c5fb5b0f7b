package store

import (
	"context"
	"database/sql"
	"fmt"

	storecrypto "github.com/YunoHost/cli/internal/config/store/crypto"
)

// Server is one stored server profile. Password is plaintext in memory and
// encrypted at rest.
type Server struct {
	Name          string
	Host          string
	Username      string
	Password      string
	SkipTLSVerify bool
	CreatedAt     string
	UpdatedAt     string
}

// Servers returns every stored server profile, ordered by name. Passwords
// are decrypted before being returned.
func (s *Store) Servers(ctx context.Context) ([]Server, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT name, host, username, password, skip_tls_verify, created_at, updated_at
        FROM servers
        ORDER BY name
    `)
	if err != nil {
		return nil, fmt.Errorf("config: list servers: %w", err)
	}
	defer rows.Close()

	var servers []Server
	for rows.Next() {
		srv, err := s.scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate servers: %w", err)
	}

	return servers, nil
}

// Server returns the named server profile.
func (s *Store) Server(ctx context.Context, name string) (Server, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT name, host, username, password, skip_tls_verify, created_at, updated_at
        FROM servers
        WHERE name = ?
    `, name)

	srv, err := s.scanServer(row)
	if err == sql.ErrNoRows {
		return Server{}, NotFoundError{Entity: "server", Key: name}
	}
	if err != nil {
		return Server{}, err
	}
	return srv, nil
}

// SaveServer inserts or replaces a server profile. The password is
// encrypted before it reaches the database.
func (s *Store) SaveServer(ctx context.Context, srv Server) error {
	if s.readOnly {
		return fmt.Errorf("config: save server: store opened read-only")
	}
	if srv.Name == "" {
		return fmt.Errorf("config: save server: name is required")
	}
	if srv.Host == "" {
		return fmt.Errorf("config: save server: host is required")
	}

	stored := srv.Password
	if stored != "" {
		encrypted, err := storecrypto.Encrypt(s.encryptionKey, stored)
		if err != nil {
			return fmt.Errorf("config: encrypt password for %s: %w", srv.Name, err)
		}
		stored = encrypted
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO servers (name, host, username, password, skip_tls_verify, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(name) DO UPDATE SET
				host = excluded.host,
				username = excluded.username,
				password = excluded.password,
				skip_tls_verify = excluded.skip_tls_verify,
				updated_at = CURRENT_TIMESTAMP
		`, srv.Name, srv.Host, srv.Username, stored, boolToInt(srv.SkipTLSVerify)); err != nil {
			return fmt.Errorf("config: save server %s: %w", srv.Name, err)
		}
		return nil
	})
}

// RemoveServer deletes a server profile.
func (s *Store) RemoveServer(ctx context.Context, name string) error {
	if s.readOnly {
		return fmt.Errorf("config: remove server: store opened read-only")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM servers WHERE name = ?`, name)
		if err != nil {
			return fmt.Errorf("config: remove server %s: %w", name, err)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return NotFoundError{Entity: "server", Key: name}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanServer(row rowScanner) (Server, error) {
	var (
		srv      Server
		password string
		skipTLS  int
	)
	if err := row.Scan(&srv.Name, &srv.Host, &srv.Username, &password, &skipTLS, &srv.CreatedAt, &srv.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Server{}, err
		}
		return Server{}, fmt.Errorf("config: scan server: %w", err)
	}
	srv.SkipTLSVerify = skipTLS == 1

	if password != "" {
		if s.encryptionKey == nil {
			return Server{}, fmt.Errorf("config: password for %s is encrypted but no key is available", srv.Name)
		}
		plain, err := storecrypto.Decrypt(s.encryptionKey, password)
		if err != nil {
			return Server{}, fmt.Errorf("config: decrypt password for %s: %w", srv.Name, err)
		}
		srv.Password = plain
	}

	return srv, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
