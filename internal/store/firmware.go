package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// FirmwareVersion is one firmware image fetched for the fleet.
type FirmwareVersion struct {
	Hash      string    `json:"hash"`
	Size      int       `json:"size"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// FirmwareVersions records fetched firmware images.
type FirmwareVersions struct {
	db  *sql.DB
	now func() time.Time
}

// NewFirmwareVersions creates the repository over db.
func NewFirmwareVersions(db *sql.DB) *FirmwareVersions {
	return &FirmwareVersions{db: db, now: time.Now}
}

// Record stores v. Fetching the same hash again updates its timestamp.
func (r *FirmwareVersions) Record(ctx context.Context, v FirmwareVersion) error {
	if v.Hash == "" {
		return fmt.Errorf("%w: firmware hash is required", ErrInvalid)
	}
	if v.FetchedAt.IsZero() {
		v.FetchedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO firmware_versions (hash, size, source, fetched_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET size = excluded.size, source = excluded.source, fetched_at = excluded.fetched_at`,
		v.Hash, v.Size, v.Source, v.FetchedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("recording firmware version: %w", err)
	}
	return nil
}

// Latest returns the most recently fetched version, or ErrNotFound.
func (r *FirmwareVersions) Latest(ctx context.Context) (FirmwareVersion, error) {
	var v FirmwareVersion
	var fetchedAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT hash, size, source, fetched_at FROM firmware_versions ORDER BY fetched_at DESC LIMIT 1",
	).Scan(&v.Hash, &v.Size, &v.Source, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	if err != nil {
		return v, fmt.Errorf("querying latest firmware: %w", err)
	}
	if v.FetchedAt, err = time.Parse(timeLayout, fetchedAt); err != nil {
		return v, fmt.Errorf("parsing firmware timestamp %q: %w", fetchedAt, err)
	}
	return v, nil
}
