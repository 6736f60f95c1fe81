package services

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/isdelr/ark-warden/internal/metrics"
	"github.com/isdelr/ark-warden/internal/models"
	"github.com/isdelr/ark-warden/internal/storage"
	"github.com/klauspost/compress/flate"
	"github.com/rs/zerolog/log"
)

// BackupNameLayout formats archive names; lexical order equals chronological order.
const BackupNameLayout = "2006-01-02_(15-04-05)"

// DefaultMaxBackupCount is the retention cap when none is configured.
const DefaultMaxBackupCount = 10

const partialPrefix = ".partial-"

var (
	ErrSourceUnreadable   = errors.New("backup source unreadable")
	ErrDestUnwritable     = errors.New("backup destination unwritable")
	ErrArchiveWriteFailed = errors.New("archive write failed")
)

// BackupServiceProvider defines the interface for backup services.
type BackupServiceProvider interface {
	CreateBackup(ctx context.Context) (models.Backup, error)
	GetBackups() ([]models.Backup, error)
}

// BackupConfig describes what is archived and where archives live.
type BackupConfig struct {
	SourceRoot     string
	BackupPath     string
	MaxBackupCount int
	Filter         Filter // nil archives everything
}

// BackupService snapshots the data directory into rotating zip archives.
type BackupService struct {
	cfg          BackupConfig
	eventService EventServiceProvider
	mirror       storage.Mirror
	now          func() time.Time
}

// NewBackupService creates a new BackupService. mirror may be nil.
func NewBackupService(cfg BackupConfig, eventService EventServiceProvider, mirror storage.Mirror) *BackupService {
	if cfg.MaxBackupCount < 1 {
		cfg.MaxBackupCount = DefaultMaxBackupCount
	}
	if eventService == nil {
		eventService = discardEvents{}
	}
	return &BackupService{
		cfg:          cfg,
		eventService: eventService,
		mirror:       mirror,
		now:          time.Now,
	}
}

// CreateBackup writes a new archive of the data directory and applies the retention cap.
func (s *BackupService) CreateBackup(ctx context.Context) (models.Backup, error) {
	started := time.Now()
	backup, err := s.createBackup(ctx)
	if err != nil {
		metrics.BackupFailures.Inc()
		log.Error().Err(err).Str("source", s.cfg.SourceRoot).Msg("Backup failed")
		s.eventService.CreateEvent("backup.create.fail", "error", fmt.Sprintf("Backup failed: %v", err))
		return models.Backup{}, err
	}
	metrics.BackupsCreated.Inc()
	metrics.BackupDuration.Observe(time.Since(started).Seconds())
	log.Info().Str("backup", backup.Name).Int64("size", backup.Size).Dur("took", time.Since(started)).Msg("Backup created")
	s.eventService.CreateEvent("backup.create", "info", fmt.Sprintf("Backup '%s' created.", backup.Name))

	evicted, err := s.enforceRetention()
	if err != nil {
		// The new archive exists; surface the retention failure all the same.
		return backup, fmt.Errorf("apply retention: %w", err)
	}

	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, backup.Path, backup.Name); err != nil {
			log.Warn().Err(err).Str("backup", backup.Name).Msg("Offsite mirror upload failed")
		}
		if evicted != "" {
			if err := s.mirror.Remove(ctx, evicted); err != nil {
				log.Warn().Err(err).Str("backup", evicted).Msg("Offsite mirror removal failed")
			}
		}
	}
	return backup, nil
}

func (s *BackupService) createBackup(ctx context.Context) (models.Backup, error) {
	info, err := os.Stat(s.cfg.SourceRoot)
	if err != nil {
		return models.Backup{}, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	if !info.IsDir() {
		return models.Backup{}, fmt.Errorf("%w: %s is not a directory", ErrSourceUnreadable, s.cfg.SourceRoot)
	}
	if err := os.MkdirAll(s.cfg.BackupPath, 0o755); err != nil {
		return models.Backup{}, fmt.Errorf("%w: %w", ErrDestUnwritable, err)
	}

	name := s.nextName()
	finalPath := filepath.Join(s.cfg.BackupPath, name)

	tmp, err := os.CreateTemp(s.cfg.BackupPath, partialPrefix+"*")
	if err != nil {
		return models.Backup{}, fmt.Errorf("%w: %w", ErrDestUnwritable, err)
	}
	tmpPath := tmp.Name()

	writeErr := s.writeArchive(ctx, tmp)
	closeErr := tmp.Close()
	if writeErr == nil && closeErr != nil {
		writeErr = fmt.Errorf("%w: %w", ErrArchiveWriteFailed, closeErr)
	}
	if writeErr != nil {
		os.Remove(tmpPath) // Clean up partial file
		return models.Backup{}, writeErr
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return models.Backup{}, fmt.Errorf("%w: %w", ErrDestUnwritable, err)
	}

	fi, err := os.Stat(finalPath)
	if err != nil {
		return models.Backup{}, fmt.Errorf("%w: %w", ErrDestUnwritable, err)
	}
	return models.Backup{
		Name:      name,
		Path:      finalPath,
		Size:      fi.Size(),
		CreatedAt: creationTime(finalPath, fi),
	}, nil
}

// nextName derives the archive name from the clock, suffixing on a same-second collision.
func (s *BackupService) nextName() string {
	stem := s.now().Format(BackupNameLayout)
	name := stem + models.ArchiveExt
	for i := 1; ; i++ {
		if _, err := os.Lstat(filepath.Join(s.cfg.BackupPath, name)); errors.Is(err, fs.ErrNotExist) {
			return name
		}
		name = fmt.Sprintf("%s_%d%s", stem, i, models.ArchiveExt)
	}
}

func (s *BackupService) writeArchive(ctx context.Context, w io.Writer) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	root := s.cfg.SourceRoot
	var added, skipped int
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
		}

		if d.IsDir() {
			header := &zip.FileHeader{Name: name + "/", Method: zip.Store, Modified: info.ModTime()}
			header.SetMode(info.Mode())
			if _, err := zw.CreateHeader(header); err != nil {
				return fmt.Errorf("%w: %w", ErrArchiveWriteFailed, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			log.Debug().Str("path", name).Msg("Skipping non-regular file")
			return nil
		}
		if s.cfg.Filter != nil && s.cfg.Filter(name, info) {
			log.Debug().Str("path", name).Msg("Excluded from backup")
			skipped++
			return nil
		}

		if err := addFile(zw, path, name, info); err != nil {
			return err
		}
		added++
		return nil
	})
	if err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveWriteFailed, err)
	}
	log.Debug().Int("files", added).Int("excluded", skipped).Msg("Archive written")
	return nil
}

// addFile streams one file into the archive without buffering it whole.
func addFile(zw *zip.Writer, path, name string, info fs.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveWriteFailed, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	defer f.Close()

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveWriteFailed, err)
	}
	if _, err := io.Copy(writer, f); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrArchiveWriteFailed, name, err)
	}
	return nil
}

// enforceRetention evicts at most one archive, the oldest by creation time,
// once the directory holds more than the cap. Ties go to the lower name.
func (s *BackupService) enforceRetention() (string, error) {
	backups, err := listArchives(s.cfg.BackupPath)
	if err != nil {
		return "", err
	}
	metrics.BackupArchives.Set(float64(len(backups)))
	if len(backups) <= s.cfg.MaxBackupCount {
		return "", nil
	}

	oldest := backups[0]
	for _, b := range backups[1:] {
		if b.CreatedAt.Before(oldest.CreatedAt) {
			oldest = b
		}
	}
	if err := os.Remove(oldest.Path); err != nil {
		return "", err
	}
	metrics.BackupsEvicted.Inc()
	metrics.BackupArchives.Set(float64(len(backups) - 1))
	log.Info().Str("backup", oldest.Name).Int("cap", s.cfg.MaxBackupCount).Msg("Evicted oldest backup")
	s.eventService.CreateEvent("backup.evict", "warn", fmt.Sprintf("Backup '%s' was evicted by the retention cap.", oldest.Name))
	return oldest.Name, nil
}

// GetBackups lists the archives in the backup directory, oldest name first.
func (s *BackupService) GetBackups() ([]models.Backup, error) {
	return listArchives(s.cfg.BackupPath)
}

// listArchives reads the backup directory; CreatedAt is the filesystem creation time.
// The result is sorted by name ascending, so a stable "oldest" scan breaks ties by name.
func listArchives(dir string) ([]models.Backup, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.Backup{}, nil
		}
		return nil, err
	}

	backups := []models.Backup{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, models.ArchiveExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			log.Warn().Err(err).Str("file_name", name).Msg("Could not get file info during backup listing")
			continue
		}
		path := filepath.Join(dir, name)
		backups = append(backups, models.Backup{
			Name:      name,
			Path:      path,
			Size:      info.Size(),
			CreatedAt: creationTime(path, info),
		})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Name < backups[j].Name })
	return backups, nil
}
