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
	"strings"

	"github.com/isdelr/ark-warden/internal/metrics"
	"github.com/isdelr/ark-warden/internal/models"
	"github.com/klauspost/compress/flate"
	"github.com/rs/zerolog/log"
)

var (
	ErrArchiveNotFound   = errors.New("archive not found")
	ErrArchiveUnreadable = errors.New("archive unreadable")
	ErrPathEscape        = errors.New("archive entry escapes the data directory")
	ErrPartialRestore    = errors.New("restore stopped part way")
)

// PartialRestoreError is returned when extraction fails after files were written.
type PartialRestoreError struct {
	Applied int // files fully written before the failure
	Err     error
}

func (e *PartialRestoreError) Error() string {
	return fmt.Sprintf("%v after %d files: %v", ErrPartialRestore, e.Applied, e.Err)
}

func (e *PartialRestoreError) Unwrap() []error {
	return []error{ErrPartialRestore, e.Err}
}

// RollbackServiceProvider defines the interface for rollback services.
type RollbackServiceProvider interface {
	ListBackups() ([]models.Backup, error)
	Restore(ctx context.Context, archiveID string) (int, error)
}

// RollbackService restores archives into the data directory.
type RollbackService struct {
	backupPath   string
	dataDir      string
	eventService EventServiceProvider
}

// NewRollbackService creates a new RollbackService.
func NewRollbackService(backupPath, dataDir string, eventService EventServiceProvider) *RollbackService {
	if eventService == nil {
		eventService = discardEvents{}
	}
	return &RollbackService{backupPath: backupPath, dataDir: dataDir, eventService: eventService}
}

// ListBackups lists the archives available for a rollback.
func (s *RollbackService) ListBackups() ([]models.Backup, error) {
	return listArchives(s.backupPath)
}

// resolveArchive maps an identifier, with or without the extension, to a file in the backup directory.
func (s *RollbackService) resolveArchive(archiveID string) (string, error) {
	id := strings.TrimSpace(archiveID)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrArchiveNotFound, archiveID)
	}
	if !strings.HasSuffix(id, models.ArchiveExt) {
		id += models.ArchiveExt
	}
	path := filepath.Join(s.backupPath, id)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q", ErrArchiveNotFound, archiveID)
	}
	return path, nil
}

type restoreEntry struct {
	file *zip.File
	rel  string // slash-free local path below the data directory
	dir  bool
}

// Restore overwrites the data directory with the contents of an archive and
// returns the number of files written. Every entry is validated before the
// first write, so a rejected archive leaves the data directory untouched.
func (s *RollbackService) Restore(ctx context.Context, archiveID string) (int, error) {
	path, err := s.resolveArchive(archiveID)
	if err != nil {
		metrics.Restores.WithLabelValues("not_found").Inc()
		return 0, err
	}

	r, err := zip.OpenReader(path)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		metrics.Restores.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("%w: %w", ErrArchiveUnreadable, err)
	}
	defer r.Close()
	r.RegisterDecompressor(zip.Deflate, flate.NewReader)

	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		metrics.Restores.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("create data directory: %w", err)
	}

	plan, err := s.plan(r.File)
	if err != nil {
		metrics.Restores.WithLabelValues("rejected").Inc()
		log.Warn().Err(err).Str("backup", filepath.Base(path)).Msg("Rejected archive for restore")
		s.eventService.CreateEvent("rollback.reject", "error", fmt.Sprintf("Archive '%s' rejected: %v", filepath.Base(path), err))
		return 0, err
	}

	// Writes go through an os.Root so a symlink swapped in after planning still cannot escape.
	root, err := os.OpenRoot(s.dataDir)
	if err != nil {
		metrics.Restores.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("open data directory: %w", err)
	}
	defer root.Close()

	applied := 0
	for _, entry := range plan {
		if err := ctx.Err(); err != nil {
			return applied, s.partial(path, applied, err)
		}
		if entry.dir {
			if err := mkdirAllIn(root, entry.rel); err != nil {
				return applied, s.partial(path, applied, err)
			}
			continue
		}
		if err := extractFile(root, entry.file, entry.rel); err != nil {
			return applied, s.partial(path, applied, err)
		}
		applied++
	}

	metrics.Restores.WithLabelValues("ok").Inc()
	log.Info().Str("backup", filepath.Base(path)).Int("files", applied).Msg("Rollback completed")
	s.eventService.CreateEvent("rollback.complete", "warn", fmt.Sprintf("Data restored from '%s' (%d files).", filepath.Base(path), applied))
	return applied, nil
}

func (s *RollbackService) partial(path string, applied int, err error) error {
	metrics.Restores.WithLabelValues("partial").Inc()
	log.Error().Err(err).Str("backup", filepath.Base(path)).Int("applied", applied).Msg("Rollback interrupted")
	s.eventService.CreateEvent("rollback.partial", "error", fmt.Sprintf("Restore from '%s' stopped after %d files: %v", filepath.Base(path), applied, err))
	return &PartialRestoreError{Applied: applied, Err: err}
}

// plan resolves every entry to a target inside the data directory. Symlinks
// already present in the data directory are followed, so the resolved target
// must stay inside too.
func (s *RollbackService) plan(files []*zip.File) ([]restoreEntry, error) {
	root, err := filepath.EvalSymlinks(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data directory: %w", err)
	}
	plan := make([]restoreEntry, 0, len(files))
	for _, f := range files {
		name := strings.ReplaceAll(f.Name, `\`, "/")
		isDir := strings.HasSuffix(name, "/") || f.FileInfo().IsDir()
		name = strings.TrimSuffix(name, "/")
		if name == "" {
			continue
		}
		if f.Mode()&fs.ModeSymlink != 0 {
			log.Debug().Str("entry", f.Name).Msg("Skipping symlink entry")
			continue
		}

		local := filepath.FromSlash(name)
		if !filepath.IsLocal(local) {
			return nil, fmt.Errorf("%w: %q", ErrPathEscape, f.Name)
		}
		resolved, err := resolveExisting(filepath.Join(root, local))
		if err != nil || !within(root, resolved) {
			return nil, fmt.Errorf("%w: %q", ErrPathEscape, f.Name)
		}
		plan = append(plan, restoreEntry{file: f, rel: local, dir: isDir})
	}
	return plan, nil
}

// resolveExisting evaluates symlinks in the longest existing prefix of path
// and re-appends the part that does not exist yet.
func resolveExisting(path string) (string, error) {
	existing, rest := path, ""
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolved, rest), nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// mkdirAllIn creates rel and its parents below root.
func mkdirAllIn(root *os.Root, rel string) error {
	if rel == "." || rel == "" {
		return nil
	}
	if err := mkdirAllIn(root, filepath.Dir(rel)); err != nil {
		return err
	}
	if err := root.Mkdir(rel, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return nil
}

func extractFile(root *os.Root, f *zip.File, rel string) error {
	if err := mkdirAllIn(root, filepath.Dir(rel)); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArchiveUnreadable, err)
	}
	defer rc.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := root.OpenFile(rel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
