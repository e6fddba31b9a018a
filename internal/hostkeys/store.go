// internal/hostkeys/store.go
package hostkeys

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sessionbridge-service/internal/pkg/xerrors"
)

// Store persists trusted host keys.
type Store interface {
	// Find returns the recorded keys for a host and port. Empty slice when
	// the host is unknown.
	Find(ctx context.Context, hostname string, port int) ([]Record, error)
	// Save records a key, or bumps LastVerified if the same
	// host+port+fingerprint is already present.
	Save(ctx context.Context, rec Record) error
	// Delete removes a record by id. Returns xerrors.ErrNotFound when no
	// such record exists.
	Delete(ctx context.Context, id int64) error
	// List returns all records.
	List(ctx context.Context) ([]Record, error)
}

// PostgresStore keeps host keys in the known_host_keys table.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Find(ctx context.Context, hostname string, port int) ([]Record, error) {
	query := `
		SELECT id, hostname, port, key_type, key_base64, fingerprint, first_seen, last_verified
		FROM known_host_keys
		WHERE hostname = $1 AND port = $2
		ORDER BY first_seen
	`
	rows, err := s.db.Query(ctx, query, hostname, port)
	if err != nil {
		return nil, fmt.Errorf("failed to query host keys: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	query := `
		INSERT INTO known_host_keys
			(hostname, port, key_type, key_base64, fingerprint, first_seen, last_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (hostname, port, fingerprint)
		DO UPDATE SET last_verified = EXCLUDED.last_verified
	`
	_, err := s.db.Exec(ctx, query,
		rec.Hostname, rec.Port, rec.KeyType, rec.KeyBase64,
		rec.Fingerprint, rec.FirstSeen, rec.LastVerified)
	if err != nil {
		return fmt.Errorf("failed to save host key: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM known_host_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete host key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	query := `
		SELECT id, hostname, port, key_type, key_base64, fingerprint, first_seen, last_verified
		FROM known_host_keys
		ORDER BY hostname, port, first_seen
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list host keys: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Hostname, &r.Port, &r.KeyType, &r.KeyBase64,
			&r.Fingerprint, &r.FirstSeen, &r.LastVerified); err != nil {
			return nil, fmt.Errorf("failed to scan host key: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read host keys: %w", err)
	}
	return out, nil
}

// MemoryStore is an in-process Store used in tests and single-node setups
// without Postgres.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	recs   []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) Find(_ context.Context, hostname string, port int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.recs {
		if r.Hostname == hostname && r.Port == port {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.recs {
		if r.Hostname == rec.Hostname && r.Port == rec.Port && r.Fingerprint == rec.Fingerprint {
			s.recs[i].LastVerified = time.Now().UTC()
			return nil
		}
	}
	rec.ID = s.nextID
	s.nextID++
	s.recs = append(s.recs, rec)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.recs {
		if r.ID == id {
			s.recs = append(s.recs[:i], s.recs[i+1:]...)
			return nil
		}
	}
	return xerrors.ErrNotFound
}

func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.recs))
	copy(out, s.recs)
	return out, nil
}
