package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Check kinds stored in the ledger.
const (
	KindShine  = "shine"
	KindItem   = "item"
	KindFiller = "filler"
)

// Check is one ledger row.
type Check struct {
	ID         int64     `json:"id"`
	ClientID   uuid.UUID `json:"client_id"`
	Kind       string    `json:"kind"`
	Location   int32     `json:"location"`
	Name       string    `json:"name,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ClientRecord is what the ledger remembers about a client between sessions.
type ClientRecord struct {
	ClientID  uuid.UUID `json:"client_id"`
	Remote    string    `json:"remote"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Connects  int       `json:"connects"`
	World     int32     `json:"world"`
	Scenario  int32     `json:"scenario"`
}

// CheckStore records checks and progress per client.
type CheckStore struct {
	db *Database
}

// NewCheckStore creates a check store and runs migrations.
func NewCheckStore(database *Database) (*CheckStore, error) {
	s := &CheckStore{db: database}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("check store migration failed: %w", err)
	}
	return s, nil
}

func (s *CheckStore) migrate() error {
	ctx := context.Background()
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS checks (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id   TEXT NOT NULL,
			kind        TEXT NOT NULL,
			location    INTEGER NOT NULL DEFAULT 0,
			name        TEXT NOT NULL DEFAULT '',
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checks_client ON checks(client_id, kind)`,
		// A shine can only be collected once; items and fillers repeat.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_checks_shine ON checks(client_id, location) WHERE kind = 'shine'`,
		`CREATE TABLE IF NOT EXISTS clients (
			client_id  TEXT PRIMARY KEY,
			remote     TEXT NOT NULL DEFAULT '',
			first_seen INTEGER NOT NULL,
			last_seen  INTEGER NOT NULL,
			connects   INTEGER NOT NULL DEFAULT 0,
			world      INTEGER NOT NULL DEFAULT 0,
			scenario   INTEGER NOT NULL DEFAULT -1
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Debug().Msg("check store migrations complete")
	return nil
}

// TouchClient records a connection from a client.
func (s *CheckStore) TouchClient(ctx context.Context, id uuid.UUID, remote string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(ctx,
		`INSERT INTO clients (client_id, remote, first_seen, last_seen, connects)
		 VALUES (?, ?, ?, ?, 1)
		 ON CONFLICT(client_id) DO UPDATE SET
		   remote = excluded.remote,
		   last_seen = excluded.last_seen,
		   connects = connects + 1`,
		id.String(), remote, now, now)
	if err != nil {
		return fmt.Errorf("failed to record client %s: %w", id, err)
	}
	return nil
}

// UpdateProgress stores the last world and scenario a client reported.
func (s *CheckStore) UpdateProgress(ctx context.Context, id uuid.UUID, world, scenario int32) error {
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(ctx,
		`INSERT INTO clients (client_id, first_seen, last_seen, world, scenario)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET
		   last_seen = excluded.last_seen,
		   world = excluded.world,
		   scenario = excluded.scenario`,
		id.String(), now, now, world, scenario)
	if err != nil {
		return fmt.Errorf("failed to update progress for %s: %w", id, err)
	}
	return nil
}

// Client returns the stored record for a client, or nil if it has never
// connected.
func (s *CheckStore) Client(ctx context.Context, id uuid.UUID) (*ClientRecord, error) {
	var (
		rec         ClientRecord
		first, last int64
	)
	err := s.db.QueryRow(ctx,
		`SELECT remote, first_seen, last_seen, connects, world, scenario
		 FROM clients WHERE client_id = ?`, id.String()).
		Scan(&rec.Remote, &first, &last, &rec.Connects, &rec.World, &rec.Scenario)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client %s: %w", id, err)
	}
	rec.ClientID = id
	rec.FirstSeen = time.UnixMilli(first)
	rec.LastSeen = time.UnixMilli(last)
	return &rec, nil
}

// RecordCheck appends a check. For shines it reports false when the shine
// was already recorded for the client.
func (s *CheckStore) RecordCheck(ctx context.Context, id uuid.UUID, kind string, location int32, name string) (bool, error) {
	res, err := s.db.Exec(ctx,
		`INSERT OR IGNORE INTO checks (client_id, kind, location, name, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id.String(), kind, location, name, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to record %s check for %s: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordShines records a batch of collected shines in one transaction and
// returns how many were new.
func (s *CheckStore) RecordShines(ctx context.Context, id uuid.UUID, shines []int32) (int, error) {
	added := 0
	now := time.Now().UnixMilli()
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO checks (client_id, kind, location, name, recorded_at)
			 VALUES (?, 'shine', ?, '', ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, shine := range shines {
			res, err := stmt.ExecContext(ctx, id.String(), shine, now)
			if err != nil {
				return fmt.Errorf("failed to record shine %d: %w", shine, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// Checks lists a client's checks in the order they were recorded. An empty
// kind lists every kind; limit <= 0 means no limit.
func (s *CheckStore) Checks(ctx context.Context, id uuid.UUID, kind string, limit int) ([]Check, error) {
	query := `SELECT id, kind, location, name, recorded_at FROM checks WHERE client_id = ?`
	args := []interface{}{id.String()}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checks for %s: %w", id, err)
	}
	defer rows.Close()

	var checks []Check
	for rows.Next() {
		var (
			c  Check
			at int64
		)
		if err := rows.Scan(&c.ID, &c.Kind, &c.Location, &c.Name, &at); err != nil {
			return nil, err
		}
		c.ClientID = id
		c.RecordedAt = time.UnixMilli(at)
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// CollectedShines returns the shine ids recorded for a client, ascending.
func (s *CheckStore) CollectedShines(ctx context.Context, id uuid.UUID) ([]int32, error) {
	rows, err := s.db.Query(ctx,
		`SELECT location FROM checks WHERE client_id = ? AND kind = 'shine' ORDER BY location`,
		id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list shines for %s: %w", id, err)
	}
	defer rows.Close()

	var shines []int32
	for rows.Next() {
		var shine int32
		if err := rows.Scan(&shine); err != nil {
			return nil, err
		}
		shines = append(shines, shine)
	}
	return shines, rows.Err()
}

// Counts returns the number of recorded checks per kind for a client.
func (s *CheckStore) Counts(ctx context.Context, id uuid.UUID) (map[string]int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT kind, COUNT(*) FROM checks WHERE client_id = ? GROUP BY kind`,
		id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to count checks for %s: %w", id, err)
	}
	defer rows.Close()

	counts := map[string]int{KindShine: 0, KindItem: 0, KindFiller: 0}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// PruneInactive deletes clients last seen before cutoff together with their
// checks. It returns how many clients and checks were removed.
func (s *CheckStore) PruneInactive(ctx context.Context, cutoff time.Time) (clients, checks int, err error) {
	err = s.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM checks WHERE client_id IN
			   (SELECT client_id FROM clients WHERE last_seen < ?)`,
			cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		checks = int(n)

		res, err = tx.ExecContext(ctx, `DELETE FROM clients WHERE last_seen < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		clients = int(n)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prune inactive clients: %w", err)
	}
	return clients, checks, nil
}

// Totals returns the number of known clients and recorded checks.
func (s *CheckStore) Totals(ctx context.Context) (clients, checks int, err error) {
	err = s.db.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM clients), (SELECT COUNT(*) FROM checks)`,
	).Scan(&clients, &checks)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count ledger rows: %w", err)
	}
	return clients, checks, nil
}

// Checkpoint flushes the write-ahead log into the main database file.
func (s *CheckStore) Checkpoint(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal checkpoint failed: %w", err)
	}
	return nil
}
