// Package storage provides persistent storage for player settings and the
// download history using BoltDB.
//
// Buckets:
//   - settings: one JSON value per persisted setting, keyed by setting name
//   - downloads: one JSON DownloadRecord per completed download, keyed by ID
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/opd-ai/go-strata/pkg/config"
)

var (
	bucketSettings  = []byte("settings")
	bucketDownloads = []byte("downloads")
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// DatabaseFile is the name of the database inside the storage directory.
const DatabaseFile = "strata.db"

// Manager handles all BoltDB operations.
type Manager struct {
	db     *bbolt.DB
	path   string
	logger *slog.Logger
}

// DownloadRecord is a completed download.
type DownloadRecord struct {
	ID           string        `json:"id"`
	URL          string        `json:"url"`
	Kind         string        `json:"kind"` // progressive or hls
	LocalPath    string        `json:"local_path"`
	Filename     string        `json:"filename"`
	MimeType     string        `json:"mime_type"`
	Size         int64         `json:"size"`
	Segments     int           `json:"segments,omitempty"`
	Checksum     string        `json:"checksum,omitempty"`
	DownloadedAt time.Time     `json:"downloaded_at"`
	Duration     time.Duration `json:"duration"`
}

// DownloadStats summarises the download history.
type DownloadStats struct {
	TotalDownloads  int            `json:"total_downloads"`
	TotalSize       int64          `json:"total_size_bytes"`
	DownloadsByKind map[string]int `json:"downloads_by_kind"`
	OldestDownload  time.Time      `json:"oldest_download"`
	NewestDownload  time.Time      `json:"newest_download"`
}

// NewManager opens (or creates) the database in cfg.Directory.
func NewManager(cfg *config.StorageConfig, logger *slog.Logger) (*Manager, error) {
	dbPath := filepath.Join(cfg.Directory, DatabaseFile)

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", dbPath, err)
	}

	manager := &Manager{
		db:     db,
		path:   dbPath,
		logger: logger,
	}

	if err := manager.initializeBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	logger.Info("Storage manager initialized", "db_path", dbPath)

	return manager, nil
}

func (m *Manager) initializeBuckets() error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketSettings, bucketDownloads} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", string(bucket), err)
			}
		}
		return nil
	})
}

// Close closes the database.
func (m *Manager) Close() error {
	m.logger.Info("Closing storage manager")
	return m.db.Close()
}

// HealthCheck verifies that the database can serve a read transaction.
func (m *Manager) HealthCheck() error {
	return m.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketSettings) == nil || tx.Bucket(bucketDownloads) == nil {
			return fmt.Errorf("storage buckets missing")
		}
		return nil
	})
}

// LoadSettings returns every persisted setting as raw JSON keyed by name.
func (m *Manager) LoadSettings() (map[string]json.RawMessage, error) {
	settings := make(map[string]json.RawMessage)

	err := m.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).ForEach(func(k, v []byte) error {
			if !json.Valid(v) {
				m.logger.Warn("Ignoring corrupt setting", "key", string(k))
				return nil
			}
			settings[string(k)] = json.RawMessage(append([]byte(nil), v...))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	return settings, nil
}

// SaveSettings stores each value as JSON under its name in one transaction.
func (m *Manager) SaveSettings(values map[string]any) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSettings)
		for key, value := range values {
			data, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("failed to marshal setting %s: %w", key, err)
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return fmt.Errorf("failed to store setting %s: %w", key, err)
			}
		}
		return nil
	})
}

// AddDownloadRecord stores a completed download.
func (m *Manager) AddDownloadRecord(record *DownloadRecord) error {
	if record.ID == "" || record.LocalPath == "" {
		return fmt.Errorf("download record must have ID and LocalPath")
	}

	return m.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal download record: %w", err)
		}

		if err := tx.Bucket(bucketDownloads).Put([]byte(record.ID), data); err != nil {
			return fmt.Errorf("failed to store download record: %w", err)
		}

		m.logger.Debug("Download record added",
			"id", record.ID,
			"kind", record.Kind,
			"size_bytes", record.Size)

		return nil
	})
}

// GetDownloadRecord returns the record with the given ID or ErrNotFound.
func (m *Manager) GetDownloadRecord(id string) (*DownloadRecord, error) {
	var record DownloadRecord
	err := m.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDownloads).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// ListDownloadRecords returns the history, newest first, optionally
// filtered by kind.
func (m *Manager) ListDownloadRecords(kind string) ([]*DownloadRecord, error) {
	var records []*DownloadRecord

	err := m.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDownloads).ForEach(func(k, v []byte) error {
			var record DownloadRecord
			if err := json.Unmarshal(v, &record); err != nil {
				m.logger.Warn("Failed to unmarshal download record",
					"key", string(k),
					"error", err)
				return nil
			}
			if kind != "" && record.Kind != kind {
				return nil
			}
			records = append(records, &record)
			return nil
		})
	})

	sort.Slice(records, func(i, j int) bool {
		return records[i].DownloadedAt.After(records[j].DownloadedAt)
	})

	return records, err
}

// RemoveDownloadRecord deletes a record. Removing a missing record is not an error.
func (m *Manager) RemoveDownloadRecord(id string) error {
	return m.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDownloads).Delete([]byte(id))
	})
}

// GetDownloadStats summarises the download history.
func (m *Manager) GetDownloadStats() (*DownloadStats, error) {
	stats := &DownloadStats{
		DownloadsByKind: make(map[string]int),
	}

	err := m.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDownloads).ForEach(func(k, v []byte) error {
			var record DownloadRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return nil
			}

			stats.TotalDownloads++
			stats.TotalSize += record.Size
			stats.DownloadsByKind[record.Kind]++

			if stats.OldestDownload.IsZero() || record.DownloadedAt.Before(stats.OldestDownload) {
				stats.OldestDownload = record.DownloadedAt
			}
			if record.DownloadedAt.After(stats.NewestDownload) {
				stats.NewestDownload = record.DownloadedAt
			}
			return nil
		})
	})

	return stats, err
}
