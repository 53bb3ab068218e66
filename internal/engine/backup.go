package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/harrison/ralph-ultra/internal/filelock"
	"github.com/harrison/ralph-ultra/internal/models"
)

const (
	// BackupDirName holds the bounded pre-run backup ring.
	BackupDirName = ".ralph-backups"
	// ArchiveDirName receives the final document when every story passes.
	ArchiveDirName = ".archive"

	backupRetention  = 20
	backupTimeFormat = "2006-01-02_15-04-05"
	backupPrefix     = "prd_"
	latestBackupName = "prd_latest"
	archiveSuffix    = "_completed_prd"
)

// BackupInfo describes one backup ring entry, newest first in listings.
type BackupInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
	SizeBytes int64     `json:"sizeBytes"`
}

// backupPRD copies the current document into the ring before a run, updates
// the latest pointer, and prunes entries beyond the retention bound.
func backupPRD(projectDir string, now time.Time) (string, error) {
	src := filepath.Join(projectDir, models.PRDFileName)
	data, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(projectDir, BackupDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := backupPrefix + now.Format(backupTimeFormat)
	dest := filepath.Join(dir, name)
	if err := filelock.AtomicWrite(dest, data); err != nil {
		return "", err
	}
	if err := filelock.AtomicWrite(filepath.Join(dir, latestBackupName), data); err != nil {
		return "", err
	}
	if err := pruneBackups(dir); err != nil {
		return "", err
	}
	return dest, nil
}

// pruneBackups deletes the oldest timestamped entries past the retention
// bound. The latest pointer does not count against retention.
func pruneBackups(dir string) error {
	names, err := timestampedBackups(dir)
	if err != nil {
		return err
	}
	if len(names) <= backupRetention {
		return nil
	}
	// Timestamp format sorts lexicographically; oldest first.
	sort.Strings(names)
	for _, name := range names[:len(names)-backupRetention] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func timestampedBackups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == latestBackupName || !strings.HasPrefix(name, backupPrefix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// listBackups returns ring entries newest first.
func listBackups(projectDir string) ([]BackupInfo, error) {
	dir := filepath.Join(projectDir, BackupDirName)
	names, err := timestampedBackups(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	infos := make([]BackupInfo, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		created, err := time.Parse(backupTimeFormat, strings.TrimPrefix(name, backupPrefix))
		if err != nil {
			created = stat.ModTime()
		}
		infos = append(infos, BackupInfo{
			Name:      name,
			Path:      path,
			CreatedAt: created,
			SizeBytes: stat.Size(),
		})
	}
	return infos, nil
}

// restoreBackup replaces the live document with a named ring entry. The
// backup must parse as a valid document before it is allowed to overwrite.
func restoreBackup(projectDir, name string) error {
	path := filepath.Join(projectDir, BackupDirName, filepath.Base(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read backup %s: %w", name, err)
	}
	if _, err := models.ParsePRD(data); err != nil {
		return fmt.Errorf("backup %s is not a valid document: %w", name, err)
	}
	return filelock.AtomicWrite(filepath.Join(projectDir, models.PRDFileName), data)
}

// archivePRD copies the completed document into the archive directory.
func archivePRD(projectDir string, now time.Time) (string, error) {
	data, err := os.ReadFile(filepath.Join(projectDir, models.PRDFileName))
	if err != nil {
		return "", err
	}
	dir := filepath.Join(projectDir, ArchiveDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, now.Format(backupTimeFormat)+archiveSuffix)
	if err := filelock.AtomicWrite(dest, data); err != nil {
		return "", err
	}
	return dest, nil
}
