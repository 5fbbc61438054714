package regionfix

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattkeenan/regionfix/pkg/nbt"
	"github.com/mattkeenan/regionfix/pkg/region"
)

func entityList(t *testing.T, n int) *nbt.List {
	t.Helper()
	list := nbt.NewList(nbt.TagCompound)
	for i := 0; i < n; i++ {
		e := nbt.NewCompound()
		e.Set("id", nbt.String("minecraft:item"))
		e.Set("Pos", nbt.IntArray{int32(i), 64, int32(-i)})
		require.NoError(t, list.Add(e))
	}
	return list
}

// levelRecord builds a record in the nested "Level" layout.
func levelRecord(t *testing.T, gx, gz, entities int) *nbt.Compound {
	t.Helper()
	level := nbt.NewCompound()
	level.Set("xPos", nbt.Int(gx))
	level.Set("zPos", nbt.Int(gz))
	level.Set("Status", nbt.String("full"))
	level.Set("Heightmap", nbt.IntArray(make([]int32, 256)))
	level.Set("Entities", entityList(t, entities))
	root := nbt.NewCompound()
	root.Set("DataVersion", nbt.Int(1343))
	root.Set("Level", level)
	return root
}

// flatRecord builds a record with its coordinate at the root.
func flatRecord(t *testing.T, gx, gz int) *nbt.Compound {
	t.Helper()
	root := nbt.NewCompound()
	root.Set("DataVersion", nbt.Int(3465))
	root.Set("xPos", nbt.Int(gx))
	root.Set("zPos", nbt.Int(gz))
	root.Set("sections", nbt.NewList(nbt.TagEnd))
	return root
}

// entitiesRecord builds a record of a separate entity container.
func entitiesRecord(t *testing.T, gx, gz, entities int) *nbt.Compound {
	t.Helper()
	root := nbt.NewCompound()
	root.Set("DataVersion", nbt.Int(3465))
	root.Set("Position", nbt.IntArray{int32(gx), int32(gz)})
	root.Set("Entities", entityList(t, entities))
	return root
}

// newContainer creates an empty container r.<rx>.<rz>.mca in dir.
func newContainer(t *testing.T, dir string, rx, rz int) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, region.FileName(rx, rz))
	require.NoError(t, region.Create(path))
	return path
}

func writeRecord(t *testing.T, path string, x, z int, root *nbt.Compound) {
	t.Helper()
	r, err := region.Open(path)
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.WriteSlot(x, z, root))
}

func readRecord(t *testing.T, path string, x, z int) *nbt.Compound {
	t.Helper()
	r, err := region.OpenReadOnly(path)
	require.NoError(t, err)
	defer r.Close()
	root, err := r.ReadSlot(x, z)
	require.NoError(t, err)
	return root
}

func slotMeta(t *testing.T, path string, x, z int) region.SlotMeta {
	t.Helper()
	r, err := region.OpenReadOnly(path)
	require.NoError(t, err)
	defer r.Close()
	m, ok := r.SlotMetadata(x, z)
	require.True(t, ok)
	return m
}

// corruptChecksum flips the last byte of a zlib record, which is part of
// the stream's trailing checksum. The compressed data stays intact.
func corruptChecksum(t *testing.T, path string, x, z int) {
	t.Helper()
	m := slotMeta(t, path, x, z)
	pos := int64(m.Offset)*region.SectorSize + 5 + int64(m.Length) - 2
	flipByte(t, path, pos)
}

func flipByte(t *testing.T, path string, pos int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	b := make([]byte, 1)
	_, err = f.ReadAt(b, pos)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b, pos)
	require.NoError(t, err)
}

// pointSlotAt rewrites the header entry of (x, z) to offset/sectors.
func pointSlotAt(t *testing.T, path string, x, z int, offset uint32, sectors uint8) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	entry := offset<<8 | uint32(sectors)
	b := []byte{byte(entry >> 24), byte(entry >> 16), byte(entry >> 8), byte(entry)}
	_, err = f.WriteAt(b, int64(4*(x+region.SlotsPerSide*z)))
	require.NoError(t, err)
}

func writeLevelDat(t *testing.T, worldDir, name string) {
	t.Helper()
	data := nbt.NewCompound()
	data.Set("LevelName", nbt.String(name))
	data.Set("version", nbt.Int(19133))
	root := nbt.NewCompound()
	root.Set("Data", data)
	require.NoError(t, nbt.WriteFile(filepath.Join(worldDir, LevelDatName), "", root, nbt.FramingGzip))
}

func writeDataFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	root := nbt.NewCompound()
	root.Set("data", nbt.NewCompound())
	require.NoError(t, nbt.WriteFile(path, "", root, nbt.FramingGzip))
}

// scanWorld loads and scans a world inline.
func scanWorld(t *testing.T, dir string) *World {
	t.Helper()
	w, err := LoadWorld(dir)
	require.NoError(t, err)
	opts := DefaultScanOptions()
	require.NoError(t, NewWorldScan(w, opts).Run(testContext(t), nil))
	return w
}

func chunkStatus(t *testing.T, sc *ScannedContainer, x, z int) ChunkStatus {
	t.Helper()
	res, ok := sc.Chunk(x, z)
	require.Truef(t, ok, "slot %d,%d not present", x, z)
	return res.Status
}

func requireCountsConsistent(t *testing.T, sc *ScannedContainer) {
	t.Helper()
	cached := sc.StatusCounts()
	require.Equal(t, cached, sc.RecountStatuses())
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
