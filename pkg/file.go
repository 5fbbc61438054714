package regionfix

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// preRepairSnapshot copies containers into a backup directory next to them
// before their first mutation. Each path is copied at most once.
type preRepairSnapshot struct {
	mu   sync.Mutex
	done map[string]error
}

func newPreRepairSnapshot() *preRepairSnapshot {
	return &preRepairSnapshot{done: make(map[string]error)}
}

// save copies path to <dir>/.regionfix-backup/<name>. A failed copy is
// remembered so the caller can refuse to mutate the container.
func (p *preRepairSnapshot) save(path string) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.done[path]; ok {
		return err
	}

	backupDir := filepath.Join(filepath.Dir(path), BackupDirName)
	err := os.MkdirAll(backupDir, 0755)
	if err == nil {
		err = copyFileWithMetadata(path, filepath.Join(backupDir, filepath.Base(path)))
	}
	if err != nil {
		err = errors.Wrapf(err, "pre-repair copy of %s", path)
	} else {
		VerboseLog(2, "Backed up %s to %s", filepath.Base(path), backupDir)
	}
	p.done[path] = err
	return err
}

// copyFileWithMetadata copies a file while preserving its mode and mtime
func copyFileWithMetadata(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return errors.Wrap(err, "stat source file")
	}

	sourceData, err := os.ReadFile(src)
	if err != nil {
		return errors.Wrap(err, "read source file")
	}

	if err := os.WriteFile(dst, sourceData, srcInfo.Mode().Perm()); err != nil {
		return errors.Wrap(err, "write destination file")
	}

	// Non-fatal, the data is already copied
	if err := os.Chtimes(dst, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		VerboseLog(2, "Warning: failed to preserve mtime for %s: %v", dst, err)
	}
	return nil
}
