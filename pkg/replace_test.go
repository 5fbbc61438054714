package regionfix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattkeenan/regionfix/pkg/nbt"
)

// replaceFixture builds a target grid with a corrupted slot 2,2 and two
// backup grids.
type replaceFixture struct {
	target  string
	backup1 string
	backup2 string
}

func newReplaceFixture(t *testing.T) replaceFixture {
	root := t.TempDir()
	fx := replaceFixture{
		target:  filepath.Join(root, "world", "region"),
		backup1: filepath.Join(root, "b1", "region"),
		backup2: filepath.Join(root, "b2", "region"),
	}
	path := newContainer(t, fx.target, 0, 0)
	writeRecord(t, path, 2, 2, levelRecord(t, 2, 2, 0))
	writeRecord(t, path, 3, 3, levelRecord(t, 3, 3, 0))
	corruptChecksum(t, path, 2, 2)
	return fx
}

func loadGrid(t *testing.T, dir string) *Grid {
	t.Helper()
	g, err := LoadGrid(dir, GridRegion, "overworld")
	require.NoError(t, err)
	return g
}

func TestReplaceChunksPriority(t *testing.T) {
	fx := newReplaceFixture(t)

	// b1 has the slot but damaged, b2 has a healthy copy.
	b1 := newContainer(t, fx.backup1, 0, 0)
	writeRecord(t, b1, 2, 2, levelRecord(t, 2, 2, 1))
	corruptChecksum(t, b1, 2, 2)
	b2 := newContainer(t, fx.backup2, 0, 0)
	want := levelRecord(t, 2, 2, 2)
	writeRecord(t, b2, 2, 2, want)

	target := filepath.Join(fx.target, "r.0.0.mca")
	sc := ScanContainer(target, GridRegion, DefaultScanOptions())
	require.Equal(t, ChunkCorrupted, chunkStatus(t, sc, 2, 2))

	f := NewFixer(DefaultScanOptions(), false)
	backups := []*Grid{loadGrid(t, fx.backup1), loadGrid(t, fx.backup2)}
	assert.Equal(t, 1, f.ReplaceChunks(sc, backups, NewChunkStatusSet(ChunkCorrupted)))

	res, _ := sc.Chunk(2, 2)
	assert.Equal(t, ChunkResult{Entities: 2, Status: ChunkOK}, res)
	assert.True(t, nbt.Equal(want, readRecord(t, target, 2, 2)))
	requireCountsConsistent(t, sc)

	rescanned := ScanContainer(target, GridRegion, DefaultScanOptions())
	assert.Equal(t, sc.chunks, rescanned.chunks)
}

func TestReplaceChunksFirstBackupWins(t *testing.T) {
	fx := newReplaceFixture(t)

	first := levelRecord(t, 2, 2, 5)
	writeRecord(t, newContainer(t, fx.backup1, 0, 0), 2, 2, first)
	writeRecord(t, newContainer(t, fx.backup2, 0, 0), 2, 2, levelRecord(t, 2, 2, 9))

	target := filepath.Join(fx.target, "r.0.0.mca")
	sc := ScanContainer(target, GridRegion, DefaultScanOptions())
	f := NewFixer(DefaultScanOptions(), false)
	backups := []*Grid{loadGrid(t, fx.backup1), loadGrid(t, fx.backup2)}
	assert.Equal(t, 1, f.ReplaceChunks(sc, backups, NewChunkStatusSet(ChunkCorrupted)))
	assert.True(t, nbt.Equal(first, readRecord(t, target, 2, 2)))
}

func TestReplaceChunksNoUsableBackup(t *testing.T) {
	fx := newReplaceFixture(t)
	// b1 has no such container, b2 has it but the slot is empty.
	require.NoError(t, os.MkdirAll(fx.backup1, 0755))
	writeRecord(t, newContainer(t, fx.backup2, 0, 0), 9, 9, levelRecord(t, 9, 9, 0))

	target := filepath.Join(fx.target, "r.0.0.mca")
	sc := ScanContainer(target, GridRegion, DefaultScanOptions())
	before, err := os.ReadFile(target)
	require.NoError(t, err)

	f := NewFixer(DefaultScanOptions(), false)
	backups := []*Grid{loadGrid(t, fx.backup1), loadGrid(t, fx.backup2)}
	assert.Equal(t, 0, f.ReplaceChunks(sc, backups, NewChunkStatusSet(ChunkCorrupted)))
	assert.Equal(t, ChunkCorrupted, chunkStatus(t, sc, 2, 2))

	after, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReplaceChunksUsesScannedBackupWorld(t *testing.T) {
	fx := newReplaceFixture(t)
	writeRecord(t, newContainer(t, fx.backup1, 0, 0), 2, 2, levelRecord(t, 2, 2, 0))

	bg := loadGrid(t, fx.backup1)
	bsc := ScanContainer(filepath.Join(fx.backup1, "r.0.0.mca"), GridRegion, DefaultScanOptions())
	bg.replaceContainer(bsc)

	f := NewFixer(DefaultScanOptions(), false)
	assert.Same(t, bsc, f.backupContainer(bg, "r.0.0.mca"))

	target := filepath.Join(fx.target, "r.0.0.mca")
	sc := ScanContainer(target, GridRegion, DefaultScanOptions())
	assert.Equal(t, 1, f.ReplaceChunks(sc, []*Grid{bg}, NewChunkStatusSet(ChunkCorrupted)))
	assert.Empty(t, f.backups, "already scanned backups are not rescanned")
}

func TestReplaceContainer(t *testing.T) {
	root := t.TempDir()
	targetDir := filepath.Join(root, "world", "region")
	backupDir := filepath.Join(root, "backup", "region")
	require.NoError(t, os.MkdirAll(targetDir, 0755))
	target := filepath.Join(targetDir, "r.0.0.mca")
	require.NoError(t, os.WriteFile(target, []byte("truncated"), 0644))

	writeRecord(t, newContainer(t, backupDir, 0, 0), 1, 1, levelRecord(t, 1, 1, 0))
	// An unusable backup first, it must be skipped.
	badDir := filepath.Join(root, "bad", "region")
	require.NoError(t, os.MkdirAll(badDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, "r.0.0.mca"), []byte("x"), 0644))

	sc := ScanContainer(target, GridRegion, DefaultScanOptions())
	require.Equal(t, RegionTooSmall, sc.Status)

	f := NewFixer(DefaultScanOptions(), true)
	assert.True(t, f.ReplaceContainer(sc, []*Grid{loadGrid(t, badDir), loadGrid(t, backupDir)}))
	assert.Equal(t, RegionOK, sc.Status)
	assert.Equal(t, ChunkOK, chunkStatus(t, sc, 1, 1))

	saved, err := os.ReadFile(filepath.Join(targetDir, BackupDirName, "r.0.0.mca"))
	require.NoError(t, err)
	assert.Equal(t, []byte("truncated"), saved)
}

func TestReplaceContainerNoBackup(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "r.0.0.mca")
	require.NoError(t, os.WriteFile(target, []byte("truncated"), 0644))
	sc := ScanContainer(target, GridRegion, DefaultScanOptions())

	f := NewFixer(DefaultScanOptions(), false)
	assert.False(t, f.ReplaceContainer(sc, []*Grid{NewGrid(t.TempDir(), GridRegion, "overworld")}))
	assert.Equal(t, RegionTooSmall, sc.Status)
}
