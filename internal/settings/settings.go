// Package settings persists the chosen audio devices across restarts in a
// local SQLite database. Devices are remembered by name because backend
// device indices change when hardware is plugged in or out.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/vocalparam/pkg/audio"
)

const schema = `
CREATE TABLE IF NOT EXISTS audio_config (
	id                 INTEGER PRIMARY KEY CHECK (id = 1),
	input_device_name  TEXT    NOT NULL,
	output_device_name TEXT    NOT NULL,
	sample_rate        INTEGER NOT NULL,
	input_channels     INTEGER NOT NULL,
	output_channels    INTEGER NOT NULL,
	block_size         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL
);`

// AudioConfig is the persisted device selection.
type AudioConfig struct {
	InputDevice  string
	OutputDevice string
	Format       audio.Format
	UpdatedAt    time.Time
}

// StreamConfig converts c into the device stream configuration.
func (c AudioConfig) StreamConfig() audio.StreamConfig {
	return audio.StreamConfig{InputDevice: c.InputDevice, OutputDevice: c.OutputDevice, Format: c.Format}
}

// Store reads and writes the audio configuration. It is safe for
// concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("settings: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("settings: open %q: %w", path, err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns the saved configuration. ok is false when nothing was saved
// yet.
func (s *Store) Load(ctx context.Context) (cfg AudioConfig, ok bool, err error) {
	var updated int64
	err = s.db.QueryRowContext(ctx, `
		SELECT input_device_name, output_device_name, sample_rate,
		       input_channels, output_channels, block_size, updated_at
		FROM audio_config WHERE id = 1`).
		Scan(&cfg.InputDevice, &cfg.OutputDevice, &cfg.Format.SampleRate,
			&cfg.Format.InputChannels, &cfg.Format.OutputChannels, &cfg.Format.BlockSize, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return AudioConfig{}, false, nil
	}
	if err != nil {
		return AudioConfig{}, false, fmt.Errorf("settings: load audio config: %w", err)
	}
	cfg.UpdatedAt = time.Unix(updated, 0)
	return cfg, true, nil
}

// Save replaces the saved configuration.
func (s *Store) Save(ctx context.Context, cfg AudioConfig) error {
	if err := cfg.Format.Validate(); err != nil {
		return fmt.Errorf("settings: save audio config: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO audio_config
			(id, input_device_name, output_device_name, sample_rate,
			 input_channels, output_channels, block_size, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.InputDevice, cfg.OutputDevice, cfg.Format.SampleRate,
		cfg.Format.InputChannels, cfg.Format.OutputChannels, cfg.Format.BlockSize,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("settings: save audio config: %w", err)
	}
	return nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
