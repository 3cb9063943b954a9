// Package store persists the hub's durable switch records to a single
// versioned, checksummed JSON file.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sigurn/crc16"

	"github.com/resident-x/homegrid/internal/domain"
)

// FormatVersion is the snapshot layout written by this package.
const FormatVersion = 1

// Sentinel errors for snapshot operations.
var (
	// ErrUnavailable indicates the snapshot location cannot be used at all.
	ErrUnavailable = errors.New("store: snapshot location unavailable")

	// ErrNotFound indicates no snapshot has been written yet.
	ErrNotFound = errors.New("store: snapshot not found")

	// ErrCorrupt indicates the snapshot exists but cannot be trusted.
	ErrCorrupt = errors.New("store: snapshot corrupt")
)

type envelope struct {
	Version  int             `json:"version"`
	SavedAt  time.Time       `json:"saved_at"`
	Checksum string          `json:"checksum"`
	Switches json.RawMessage `json:"switches"`
}

type fileRecord struct {
	MAC                   string     `json:"mac"`
	GUID                  string     `json:"guid"`
	LastSeen              *time.Time `json:"last_seen"`
	PowerState            bool       `json:"power_state"`
	CumulativeEnergyKWh   float64    `json:"cumulative_energy_kwh"`
	CumulativeCostDollars float64    `json:"cumulative_cost_dollars"`
}

// FileStore implements domain.SnapshotStore on the local filesystem.
type FileStore struct {
	path     string
	crcTable *crc16.Table
	logger   zerolog.Logger
	now      func() time.Time
}

// Open validates that the snapshot's directory is usable and returns a store.
// A missing snapshot file is not an error; a missing or non-directory parent is.
func Open(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrUnavailable)
	}

	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrUnavailable, dir)
	}

	return &FileStore{
		path:     path,
		crcTable: crc16.MakeTable(crc16.CRC16_ARC),
		logger:   log.With().Str("component", "store").Logger(),
		now:      time.Now,
	}, nil
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and verifies the snapshot.
func (s *FileStore) Load() ([]domain.SwitchRecord, error) {
	s.logger.Debug().Str("path", s.path).Msg("Loading snapshot")

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, env.Version)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, env.Switches); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if sum := s.checksum(compact.Bytes()); sum != env.Checksum {
		return nil, fmt.Errorf("%w: checksum %s does not match %s", ErrCorrupt, env.Checksum, sum)
	}

	var rows []fileRecord
	if err := json.Unmarshal(compact.Bytes(), &rows); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	records := make([]domain.SwitchRecord, 0, len(rows))
	for _, row := range rows {
		rec := domain.SwitchRecord{
			MAC:                   row.MAC,
			GUID:                  row.GUID,
			PowerState:            row.PowerState,
			CumulativeEnergyKWh:   row.CumulativeEnergyKWh,
			CumulativeCostDollars: row.CumulativeCostDollars,
		}
		if row.LastSeen != nil {
			rec.LastSeen = *row.LastSeen
		}
		records = append(records, rec)
	}

	return records, nil
}

// Save atomically replaces the snapshot with records.
func (s *FileStore) Save(records []domain.SwitchRecord) error {
	rows := make([]fileRecord, 0, len(records))
	for _, rec := range records {
		row := fileRecord{
			MAC:                   rec.MAC,
			GUID:                  rec.GUID,
			PowerState:            rec.PowerState,
			CumulativeEnergyKWh:   rec.CumulativeEnergyKWh,
			CumulativeCostDollars: rec.CumulativeCostDollars,
		}
		if !rec.LastSeen.IsZero() {
			seen := rec.LastSeen.UTC()
			row.LastSeen = &seen
		}
		rows = append(rows, row)
	}

	switches, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode switches: %w", err)
	}

	data, err := json.MarshalIndent(envelope{
		Version:  FormatVersion,
		SavedAt:  s.now().UTC(),
		Checksum: s.checksum(switches),
		Switches: switches,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Int("switches", len(rows)).Msg("Saving snapshot")
	return writeFileAtomic(s.path, data)
}

func (s *FileStore) checksum(data []byte) string {
	return fmt.Sprintf("%04x", crc16.Checksum(data, s.crcTable))
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// into place, so a crash never leaves a half-written snapshot behind.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}
