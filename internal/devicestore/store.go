package devicestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Record is a stored device row.
type Record struct {
	// ID is the device identifier (lowercase MAC hex, no separators).
	ID string

	// Name is the installer-assigned display name. Empty until set.
	Name string

	// NetworkAddr is the last known mesh network address.
	NetworkAddr uint16

	// Type and Subtype are the raw bytes from the discovery record.
	Type    byte
	Subtype byte

	// FirstSeen is when the device first appeared in discovery.
	FirstSeen time.Time

	// LastSeen is the most recent discovery that included the device.
	LastSeen time.Time
}

// Observation is one device as seen in a discovery cycle.
type Observation struct {
	ID          string
	NetworkAddr uint16
	Type        byte
	Subtype     byte
}

// Store persists device metadata in SQLite.
//
// All methods are safe for concurrent use; SQLite serialises writes
// through the single-writer connection pool configured by the database
// package.
type Store struct {
	db *sql.DB
}

// New creates a store backed by an open SQLite connection.
// The devices table must exist (run migrations first).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordDiscovery upserts the devices seen in a discovery cycle.
//
// New devices are inserted with first_seen set to now. Known devices
// have their network address, type bytes and last_seen refreshed; the
// display name is never touched.
//
// The whole cycle is applied in one transaction so a partial discovery
// result never leaves the table half-updated.
func (s *Store) RecordDiscovery(ctx context.Context, observations []Observation) error {
	if len(observations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	now := time.Now().UTC().Format(time.RFC3339)

	for _, obs := range observations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO devices (id, network_addr, device_type, device_subtype, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				network_addr = excluded.network_addr,
				device_type = excluded.device_type,
				device_subtype = excluded.device_subtype,
				last_seen = excluded.last_seen`,
			obs.ID, int(obs.NetworkAddr), int(obs.Type), int(obs.Subtype), now, now,
		)
		if err != nil {
			return fmt.Errorf("upserting device %s: %w", obs.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing discovery: %w", err)
	}
	return nil
}

// Names returns the display names of all devices that have one.
// Devices with an empty name are omitted.
func (s *Store) Names(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name FROM devices WHERE name != ''",
	)
	if err != nil {
		return nil, fmt.Errorf("querying device names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scanning name row: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating name rows: %w", err)
	}
	return names, nil
}

// SetName sets the display name for a device.
// Returns ErrNotFound if the device has never been seen in discovery.
func (s *Store) SetName(ctx context.Context, id, name string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE devices SET name = ? WHERE id = ?", name, id,
	)
	if err != nil {
		return fmt.Errorf("updating device name: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a single device row.
// Returns ErrNotFound if the device does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, network_addr, device_type, device_subtype, first_seen, last_seen
		FROM devices
		WHERE id = ?`, id)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return record, nil
}

// List retrieves all stored device rows, ordered by ID.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, network_addr, device_type, device_subtype, first_seen, last_seen
		FROM devices
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return records, nil
}

// scanner abstracts sql.Row and sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a device row into a Record.
func scanRecord(row scanner) (*Record, error) {
	var r Record
	var networkAddr, deviceType, deviceSubtype int
	var firstSeen, lastSeen string

	err := row.Scan(&r.ID, &r.Name, &networkAddr, &deviceType, &deviceSubtype, &firstSeen, &lastSeen)
	if err != nil {
		return nil, err
	}

	// #nosec G115 -- values written by this package fit the target types
	r.NetworkAddr = uint16(networkAddr)
	r.Type = byte(deviceType)
	r.Subtype = byte(deviceSubtype)

	// Timestamps are written by this package in RFC3339.
	r.FirstSeen, _ = time.Parse(time.RFC3339, firstSeen) //nolint:errcheck // Format is controlled
	r.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)   //nolint:errcheck // Format is controlled

	return &r, nil
}
