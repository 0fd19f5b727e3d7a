package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tintbook/internal/config"

	"github.com/rs/zerolog"
)

const (
	snapshotPrefix  = "tintbook_"
	snapshotSuffix  = ".db"
	defaultInterval = 24 * time.Hour
)

// BackupService snapshots the slot database on a schedule.
type BackupService struct {
	db       *DB
	dbPath   string
	dir      string
	keep     time.Duration
	interval time.Duration
	enabled  bool
	logger   *zerolog.Logger
	now      func() time.Time
}

// NewBackupService snapshots through the live connection when db is set,
// otherwise it opens dbPath for every run.
func NewBackupService(db *DB, dbPath string, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	s := &BackupService{
		db:       db,
		dbPath:   dbPath,
		dir:      cfg.StoragePath,
		keep:     time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval: defaultInterval,
		enabled:  cfg.Enabled,
		logger:   logger,
		now:      time.Now,
	}
	if cfg.Schedule != "" {
		d, err := time.ParseDuration(cfg.Schedule)
		if err != nil || d <= 0 {
			logger.Warn().Err(err).Str("schedule", cfg.Schedule).Dur("fallback", defaultInterval).Msg("bad backup schedule")
		} else {
			s.interval = d
		}
	}
	return s
}

// Start takes a snapshot right away and then every interval until ctx ends.
func (s *BackupService) Start(ctx context.Context) {
	if !s.enabled {
		s.logger.Info().Msg("backups disabled")
		return
	}
	s.logger.Info().Dur("interval", s.interval).Str("dir", s.dir).Msg("backups started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.PerformBackup(ctx); err != nil {
			s.logger.Error().Err(err).Msg("backup failed")
		}
		s.CleanupOldBackups()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PerformBackup writes tintbook_<timestamp>.db into the storage dir and returns its path.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("backup dir: %w", err)
	}
	target := filepath.Join(s.dir, snapshotPrefix+s.now().Format("20060102_150405.000")+snapshotSuffix)

	conn, closeConn, err := s.source()
	if err != nil {
		return "", err
	}
	defer closeConn()

	if _, err := conn.ExecContext(ctx, "VACUUM INTO ?", target); err != nil {
		if s.db != nil || s.dbPath == "" {
			return "", fmt.Errorf("vacuum into %s: %w", target, err)
		}
		// старые sqlite без VACUUM INTO
		s.logger.Warn().Err(err).Msg("vacuum into failed, copying file")
		if err := copyFile(s.dbPath, target); err != nil {
			return "", fmt.Errorf("copy %s: %w", s.dbPath, err)
		}
	}

	s.logger.Info().Str("path", target).Msg("backup written")
	return target, nil
}

func (s *BackupService) source() (*sql.DB, func(), error) {
	if s.db != nil {
		return s.db.DB, func() {}, nil
	}
	if _, err := os.Stat(s.dbPath); err != nil {
		return nil, nil, fmt.Errorf("backup source: %w", err)
	}
	conn, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open backup source: %w", err)
	}
	return conn, func() { conn.Close() }, nil
}

// copyFile writes through a temp file so a partial copy never carries the snapshot name.
func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := to + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, to)
}

// CleanupOldBackups removes snapshots older than the retention window.
// Files that are not snapshots are left alone.
func (s *BackupService) CleanupOldBackups() {
	if s.keep <= 0 {
		return
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error().Err(err).Str("dir", s.dir).Msg("read backup dir")
		return
	}

	cutoff := s.now().Add(-s.keep)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("remove old backup")
			continue
		}
		s.logger.Info().Str("file", name).Msg("old backup removed")
	}
}
