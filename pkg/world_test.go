package regionfix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattkeenan/regionfix/pkg/nbt"
)

func TestLoadWorldDiscovery(t *testing.T) {
	dir := buildWorld(t)
	newContainer(t, filepath.Join(dir, "entities"), 0, 0)
	newContainer(t, filepath.Join(dir, "poi"), 0, 0)
	newContainer(t, filepath.Join(dir, "DIM1", "region"), 0, 0)
	writeDataFile(t, filepath.Join(dir, "playerdata", "0f7a.dat"))
	writeDataFile(t, filepath.Join(dir, "playerdata", "0f7a.dat_old"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "region", "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "region", "r.0.0.mca"), filepath.Join(dir, "region", "r.9.9.mca")))

	w := loadWorld(t, dir)
	assert.Equal(t, "Test World", w.Name)

	var names []string
	for _, g := range w.Grids {
		names = append(names, g.Name())
	}
	assert.Equal(t, []string{
		"overworld/region", "overworld/entities", "overworld/poi",
		"nether/region", "end/region",
	}, names)
	assert.Equal(t, 4, w.Grid(GridRegion, "overworld").Len(), "symlinks and other files are skipped")
	assert.Nil(t, w.Grid(GridEntities, "nether"))

	var data []string
	for _, df := range w.DataFiles {
		rel, err := filepath.Rel(dir, df.Path)
		require.NoError(t, err)
		data = append(data, rel)
	}
	assert.Equal(t, []string{"level.dat", filepath.Join("data", "raids.dat"), filepath.Join("playerdata", "0f7a.dat")}, data)

	// Nothing is scanned yet.
	assert.Zero(t, w.Counts().Problems())
	assert.Equal(t, Counts{}, w.Counts())
}

func TestLoadWorldRejects(t *testing.T) {
	_, err := LoadWorld(t.TempDir())
	assert.True(t, errors.Is(err, ErrNotWorld))

	file := filepath.Join(t.TempDir(), "level.dat")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = LoadWorld(file)
	assert.True(t, errors.Is(err, ErrNotWorld))

	_, err = LoadWorld(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestWorldNameFallback(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "saves", "alpha")
	newContainer(t, filepath.Join(dir, "region"), 0, 0)
	w := loadWorld(t, dir)
	assert.Equal(t, "alpha", w.Name)
}

func TestScanDataFiles(t *testing.T) {
	dir := buildWorld(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "map_0.dat"), []byte{0x1f, 0x8b, 0, 0}, 0644))

	w := scanWorld(t, dir)
	c := w.Counts()
	assert.Equal(t, 2, c.DataFile(DataOK))
	assert.Equal(t, 1, c.DataFile(DataCorrupted))
	assert.True(t, w.HasProblems())

	for _, df := range w.DataFiles {
		if df.Name() == "map_0.dat" {
			assert.Equal(t, DataCorrupted, df.Status)
			assert.NotEmpty(t, df.Err)
		}
	}
}

func TestScanRawIDCounts(t *testing.T) {
	dir := buildWorld(t)
	root := nbt.NewCompound()
	root.Set("map", nbt.Short(3))
	require.NoError(t, nbt.WriteFile(filepath.Join(dir, "data", "idcounts.dat"), "", root, nbt.FramingNone))

	w := scanWorld(t, dir)
	assert.Equal(t, 3, w.Counts().DataFile(DataOK))
	assert.False(t, w.HasProblems())
	for _, df := range w.DataFiles {
		if df.Name() == "idcounts.dat" {
			assert.Equal(t, nbt.FramingNone, df.Framing)
			assert.Equal(t, DataOK, df.Status, df.Err)
		}
	}

	// The mode follows the name, so a gzip copy of the same file is corrupted.
	require.NoError(t, nbt.WriteFile(filepath.Join(dir, "data", "idcounts.dat"), "", root, nbt.FramingGzip))
	w = scanWorld(t, dir)
	assert.Equal(t, 1, w.Counts().DataFile(DataCorrupted))
	assert.Equal(t, nbt.FramingGzip, dataFileFraming("playerdata", "idcounts.dat"))
}

func TestReplaceDataFiles(t *testing.T) {
	dir := buildWorld(t)
	backup := buildWorld(t)
	target := filepath.Join(dir, "data", "raids.dat")
	require.NoError(t, os.WriteFile(target, []byte("garbage"), 0644))

	w := scanWorld(t, dir)
	require.Equal(t, 1, w.Counts().DataFile(DataCorrupted))

	// A backup with the same file corrupted is skipped.
	broken := buildWorld(t)
	require.NoError(t, os.WriteFile(filepath.Join(broken, "data", "raids.dat"), []byte("garbage"), 0644))

	assert.Equal(t, 1, w.ReplaceDataFiles([]*World{loadWorld(t, broken), loadWorld(t, backup)}))
	assert.Equal(t, 0, w.Counts().DataFile(DataCorrupted))
	assert.Equal(t, w.Counts(), w.Recount())

	_, _, err := nbt.ReadFile(target, nbt.FramingGzip)
	assert.NoError(t, err)
}

func TestWorldRepairEndToEnd(t *testing.T) {
	dir := buildWorld(t)
	w := scanWorld(t, dir)
	require.Equal(t, 2, w.Counts().Problems())

	f := NewFixer(DefaultScanOptions(), true)
	// The corrupted record's stream is intact, only its checksum is wrong,
	// and the wrong-located one belongs to another container.
	assert.Equal(t, 1, w.RepairChunks(f, RepairableStatuses))
	assert.Equal(t, w.Counts(), w.Recount())
	assert.Equal(t, 1, w.Counts().Problems())

	assert.Equal(t, 1, w.RemoveChunks(f, FaultStatuses))
	assert.Equal(t, w.Counts(), w.Recount())
	assert.Zero(t, w.Counts().Problems())
	assert.False(t, w.HasProblems())

	rescanned := scanWorld(t, dir)
	assert.Equal(t, w.Counts(), rescanned.Counts())
	assert.Zero(t, rescanned.Counts().Problems())

	_, err := os.Stat(filepath.Join(dir, "region", BackupDirName, "r.0.0.mca"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "region", BackupDirName, "r.1.1.mca"))
	assert.NoError(t, err)
}

func TestWorldReplaceFromBackup(t *testing.T) {
	dir := buildWorld(t)
	backup := buildWorld(t)
	// The backup's copy of the corrupted record is healthy.
	writeRecord(t, filepath.Join(backup, "region", "r.0.0.mca"), 1, 1, levelRecord(t, 1, 1, 1))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DIM-1", "region", "r.-1.0.mca"), []byte("cut"), 0644))

	w := scanWorld(t, dir)
	require.Equal(t, 3, w.Counts().Problems())
	backups := []*World{loadWorld(t, backup)}

	f := NewFixer(DefaultScanOptions(), false)
	assert.Equal(t, 1, w.ReplaceContainers(f, backups))
	assert.Equal(t, 1, w.ReplaceChunks(f, backups, NewChunkStatusSet(ChunkCorrupted)))
	assert.Equal(t, w.Counts(), w.Recount())
	assert.Equal(t, 1, w.Counts().Problems(), "the wrong-located record has no counterpart")

	g := w.Grid(GridRegion, "nether")
	sc, ok := g.Container("r.-1.0.mca")
	require.True(t, ok)
	assert.Equal(t, RegionOK, sc.Status)
	assert.Equal(t, ChunkOK, chunkStatus(t, sc, 0, 0))

	bg := w.BackupGrids(backups, w.Grid(GridRegion, "overworld"))
	require.Len(t, bg, 1)
	assert.Equal(t, filepath.Join(backup, "region"), bg[0].Dir)
	assert.Empty(t, w.BackupGrids(backups, NewGrid(dir, GridPOI, "end")))
}
