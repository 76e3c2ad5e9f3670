package clinic

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/clinic/his/internal/platform/db"
)

var sqliteBuckets = []string{"patients", "medications", "prescriptions"}

// SQLiteStore is a MemoryStore whose state is written to a single SQLite
// table as one JSON blob per collection. The blobs are rewritten inside the
// commit of every transaction, so a failed write leaves both the file and
// the in-memory state unchanged.
type SQLiteStore struct {
	*MemoryStore
	db   *sql.DB
	path string
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	conn, err := db.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}

	s := &SQLiteStore{MemoryStore: NewMemoryStore(), db: conn, path: path}
	s.MemoryStore.persist = s.persist
	if err := s.load(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := NewSnapshot()
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		var target any
		switch bucket {
		case "patients":
			target = &snap.Patients
		case "medications":
			target = &snap.Medications
		case "prescriptions":
			target = &snap.Prescriptions
		default:
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}

	// A bucket stored as JSON null decodes to a nil map.
	if snap.Patients == nil || snap.Medications == nil || snap.Prescriptions == nil {
		empty := NewSnapshot()
		if snap.Patients == nil {
			snap.Patients = empty.Patients
		}
		if snap.Medications == nil {
			snap.Medications = empty.Medications
		}
		if snap.Prescriptions == nil {
			snap.Prescriptions = empty.Prescriptions
		}
	}
	s.MemoryStore.load(snap)
	return nil
}

func (s *SQLiteStore) persist(ctx context.Context, next *Snapshot) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, bucket := range sqliteBuckets {
		var data []byte
		switch bucket {
		case "patients":
			data, err = json.Marshal(next.Patients)
		case "medications":
			data, err = json.Marshal(next.Medications)
		case "prescriptions":
			data, err = json.Marshal(next.Prescriptions)
		}
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file in use.
func (s *SQLiteStore) Path() string { return s.path }
