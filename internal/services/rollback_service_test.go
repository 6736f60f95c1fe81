package services

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeRawZip builds an archive with entries in the given order, bypassing any path checks.
func writeRawZip(t *testing.T, path string, entries [][2]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e[0])
		require.NoError(t, err)
		_, err = w.Write([]byte(e[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func snapshotDir(t *testing.T, root string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestRollbackService_RoundTrip(t *testing.T) {
	backupSvc, source, backups := newTestBackupService(t, nil)
	writeFile(t, source, "Fjordur.ark", "map v1")
	writeFile(t, source, "players/42.arkprofile", "profile v1")
	want := snapshotDir(t, source)

	backup, err := backupSvc.CreateBackup(context.Background())
	require.NoError(t, err)

	writeFile(t, source, "Fjordur.ark", "map v2, corrupted")
	require.NoError(t, os.Remove(filepath.Join(source, "players", "42.arkprofile")))

	rollback := NewRollbackService(backups, source, nil)
	n, err := rollback.Restore(context.Background(), backup.ID())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, want, snapshotDir(t, source))
}

func TestRollbackService_AcceptsNameWithExtension(t *testing.T) {
	backups := t.TempDir()
	data := t.TempDir()
	writeRawZip(t, filepath.Join(backups, "2024-01-02_(15-04-05).zip"), [][2]string{{"Fjordur.ark", "map"}})

	rollback := NewRollbackService(backups, data, nil)
	n, err := rollback.Restore(context.Background(), "2024-01-02_(15-04-05).zip")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, filepath.Join(data, "Fjordur.ark"))
}

func TestRollbackService_RejectsEscapingEntries(t *testing.T) {
	cases := map[string]string{
		"parent":   "../evil.txt",
		"nested":   "saves/../../evil.txt",
		"absolute": "/tmp/evil.txt",
	}
	for name, entry := range cases {
		t.Run(name, func(t *testing.T) {
			base := t.TempDir()
			backups := filepath.Join(base, "backups")
			data := filepath.Join(base, "data")
			require.NoError(t, os.MkdirAll(backups, 0o755))
			require.NoError(t, os.MkdirAll(data, 0o755))
			writeFile(t, data, "Fjordur.ark", "live")

			// A benign entry first proves nothing is written before validation finishes.
			writeRawZip(t, filepath.Join(backups, "bad.zip"), [][2]string{
				{"Fjordur.ark", "overwritten"},
				{entry, "pwned"},
			})

			rollback := NewRollbackService(backups, data, nil)
			n, err := rollback.Restore(context.Background(), "bad")
			require.ErrorIs(t, err, ErrPathEscape)
			assert.Zero(t, n)

			assert.Equal(t, map[string]string{"Fjordur.ark": "live"}, snapshotDir(t, data))
			assert.NoFileExists(t, filepath.Join(base, "evil.txt"))
		})
	}
}

func TestRollbackService_RejectsWritesThroughSymlinks(t *testing.T) {
	cases := map[string]struct {
		link, pointsTo, entry string
	}{
		"directory": {link: "link", pointsTo: "outside", entry: "link/evil.txt"},
		"file":      {link: "Map.ark", pointsTo: "outside/target.txt", entry: "Map.ark"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			base := t.TempDir()
			backups := filepath.Join(base, "backups")
			data := filepath.Join(base, "data")
			outside := filepath.Join(base, "outside")
			for _, dir := range []string{backups, data, outside} {
				require.NoError(t, os.MkdirAll(dir, 0o755))
			}
			writeFile(t, outside, "target.txt", "untouched")
			writeFile(t, data, "Fjordur.ark", "live")
			if err := os.Symlink(filepath.Join(base, tc.pointsTo), filepath.Join(data, tc.link)); err != nil {
				t.Skipf("symlinks unavailable: %v", err)
			}

			writeRawZip(t, filepath.Join(backups, "bad.zip"), [][2]string{
				{"Fjordur.ark", "overwritten"},
				{tc.entry, "pwned"},
			})

			rollback := NewRollbackService(backups, data, nil)
			n, err := rollback.Restore(context.Background(), "bad")
			require.ErrorIs(t, err, ErrPathEscape)
			assert.Zero(t, n)

			assert.Equal(t, map[string]string{"target.txt": "untouched"}, snapshotDir(t, outside))
			content, err := os.ReadFile(filepath.Join(data, "Fjordur.ark"))
			require.NoError(t, err)
			assert.Equal(t, "live", string(content))
		})
	}
}

func TestRollbackService_FollowsSymlinksInsideDataDir(t *testing.T) {
	backups := t.TempDir()
	data := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(data, "SavedArks"), 0o755))
	if err := os.Symlink("SavedArks", filepath.Join(data, "current")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	writeRawZip(t, filepath.Join(backups, "snap.zip"), [][2]string{{"current/Fjordur.ark", "map"}})

	rollback := NewRollbackService(backups, data, nil)
	n, err := rollback.Restore(context.Background(), "snap")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, filepath.Join(data, "SavedArks", "Fjordur.ark"))
}

func TestRollbackService_PartialRestore(t *testing.T) {
	backups := t.TempDir()
	data := t.TempDir()
	// A regular file where the archive expects a directory stops extraction.
	writeFile(t, data, "blocker", "i am a file")
	writeRawZip(t, filepath.Join(backups, "snap.zip"), [][2]string{
		{"Fjordur.ark", "map"},
		{"blocker/inner.txt", "never written"},
		{"zzz.txt", "never reached"},
	})

	rollback := NewRollbackService(backups, data, nil)
	n, err := rollback.Restore(context.Background(), "snap")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialRestore)

	var partial *PartialRestoreError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.Applied)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, filepath.Join(data, "zzz.txt"))
}

func TestRollbackService_UnknownArchive(t *testing.T) {
	backups := t.TempDir()
	writeRawZip(t, filepath.Join(backups, "real.zip"), [][2]string{{"a", "b"}})
	rollback := NewRollbackService(backups, t.TempDir(), nil)

	for _, id := range []string{"", "missing", "../real", "sub/real", `..\real`, ".."} {
		_, err := rollback.Restore(context.Background(), id)
		assert.ErrorIs(t, err, ErrArchiveNotFound, "id %q", id)
	}
}

func TestRollbackService_CorruptArchive(t *testing.T) {
	backups := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(backups, "junk.zip"), []byte("not a zip"), 0o644))
	rollback := NewRollbackService(backups, t.TempDir(), nil)

	_, err := rollback.Restore(context.Background(), "junk")
	assert.ErrorIs(t, err, ErrArchiveUnreadable)
}

func TestRollbackService_ListBackups(t *testing.T) {
	backups := t.TempDir()
	writeRawZip(t, filepath.Join(backups, "2024-01-02_(15-04-06).zip"), [][2]string{{"a", "b"}})
	writeRawZip(t, filepath.Join(backups, "2024-01-02_(15-04-05).zip"), [][2]string{{"a", "b"}})
	writeFile(t, backups, "notes.txt", "x")

	rollback := NewRollbackService(backups, t.TempDir(), nil)
	list, err := rollback.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2024-01-02_(15-04-05).zip", list[0].Name)
	assert.Equal(t, "2024-01-02_(15-04-06).zip", list[1].Name)
}
