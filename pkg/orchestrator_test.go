package regionfix

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildWorld writes a small world: an overworld grid of four containers
// with one fault each in two of them, a nether grid and a level.dat.
func buildWorld(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "world")
	regionDir := filepath.Join(dir, "region")
	for rx := 0; rx < 2; rx++ {
		for rz := 0; rz < 2; rz++ {
			path := newContainer(t, regionDir, rx, rz)
			for i := 0; i < 3; i++ {
				writeRecord(t, path, i, i, levelRecord(t, rx*32+i, rz*32+i, 1))
			}
		}
	}
	corruptChecksum(t, filepath.Join(regionDir, "r.0.0.mca"), 1, 1)
	writeRecord(t, filepath.Join(regionDir, "r.1.1.mca"), 5, 5, levelRecord(t, 0, 0, 0))

	nether := newContainer(t, filepath.Join(dir, "DIM-1", "region"), -1, 0)
	writeRecord(t, nether, 0, 0, levelRecord(t, -32, 0, 2))

	writeLevelDat(t, dir, "Test World")
	writeDataFile(t, filepath.Join(dir, "data", "raids.dat"))
	return dir
}

func loadWorld(t *testing.T, dir string) *World {
	t.Helper()
	w, err := LoadWorld(dir)
	require.NoError(t, err)
	return w
}

func TestScanRunInline(t *testing.T) {
	w := loadWorld(t, buildWorld(t))
	run := NewWorldScan(w, DefaultScanOptions())

	var seen []int
	require.NoError(t, run.Run(testContext(t), func(p Progress) {
		seen = append(seen, p.Done)
	}))

	assert.Equal(t, StateFinished, run.State())
	total := len(w.WorkItems())
	assert.Equal(t, 7, total)
	require.NotEmpty(t, seen)
	assert.Equal(t, total, seen[len(seen)-1])
	assert.IsIncreasing(t, seen)

	c := w.Counts()
	assert.Equal(t, 1, c.Chunk(ChunkCorrupted))
	assert.Equal(t, 1, c.Chunk(ChunkWrongLocated))
	assert.Equal(t, 12, c.Chunk(ChunkOK))
	assert.Equal(t, 5, c.Region(RegionOK))
	assert.Equal(t, 2, c.DataFile(DataOK))
	assert.Equal(t, run.Progress().Counts, c)
	assert.Equal(t, c, w.Recount())
}

func TestScanRunPooledMatchesInline(t *testing.T) {
	dir := buildWorld(t)

	inline := loadWorld(t, dir)
	require.NoError(t, NewWorldScan(inline, DefaultScanOptions()).Run(testContext(t), nil))

	for _, workers := range []int{2, 4, 16} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			w := loadWorld(t, dir)
			opts := DefaultScanOptions()
			opts.Workers = workers
			require.NoError(t, NewWorldScan(w, opts).Run(testContext(t), nil))

			assert.Equal(t, inline.Counts(), w.Counts())
			assert.Equal(t, w.Counts(), w.Recount())
			for _, g := range inline.Grids {
				pg := w.Grid(g.Kind, g.Dimension)
				require.NotNil(t, pg)
				for _, sc := range g.Containers() {
					psc, ok := pg.Container(sc.Name())
					require.True(t, ok)
					assert.Equal(t, sc.chunks, psc.chunks, sc.Name())
				}
			}
		})
	}
}

func TestScanRunPollStates(t *testing.T) {
	w := loadWorld(t, buildWorld(t))
	run := NewWorldScan(w, DefaultScanOptions())

	assert.Equal(t, StateIdle, run.State())
	done, err := run.Poll()
	assert.False(t, done)
	assert.Equal(t, ErrNotStarted, err)

	require.NoError(t, run.Start(testContext(t)))
	assert.Equal(t, StateDispatched, run.State())
	assert.Equal(t, ErrAlreadyStarted, run.Start(testContext(t)))

	polls := 0
	for {
		done, err := run.Poll()
		require.NoError(t, err)
		polls++
		if done {
			break
		}
		require.Less(t, polls, 100)
	}
	// Inline runs scan exactly one item per poll.
	assert.Equal(t, len(w.WorkItems()), polls)
	assert.Equal(t, StateFinished, run.State())

	done, err = run.Poll()
	assert.True(t, done)
	assert.NoError(t, err)
}

func TestScanRunEmpty(t *testing.T) {
	for _, workers := range []int{1, 4} {
		run := NewScanRun(nil, ScanOptions{Workers: workers})
		require.NoError(t, run.Run(testContext(t), nil))
		assert.Equal(t, StateFinished, run.State())
	}
}

func TestScanRunWorkerPanic(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			w := loadWorld(t, buildWorld(t))
			opts := DefaultScanOptions()
			opts.Workers = workers
			run := NewWorldScan(w, opts)
			run.scanItem = func(ctx context.Context, item WorkItem, opts ScanOptions, msg *scanMessage) error {
				if strings.HasSuffix(item.Path, "r.1.0.mca") {
					msg.container = NewScannedContainer(item.Path, item.Kind)
					var m map[string]int
					m["boom"]++
				}
				return scanWorkItem(ctx, item, opts, msg)
			}

			err := run.Run(testContext(t), nil)
			require.Error(t, err)
			var cpe *ChildProcessError
			require.True(t, errors.As(err, &cpe))
			assert.Equal(t, "panic", cpe.Fault.Kind)
			assert.Contains(t, cpe.Fault.Message, "nil map")
			assert.True(t, strings.HasSuffix(cpe.Fault.Path, "r.1.0.mca"))
			assert.NotEmpty(t, cpe.Fault.Frames)
			assert.Contains(t, cpe.Trace(), "orchestrator_test.go")

			partial, ok := cpe.Partial.(*ScannedContainer)
			require.True(t, ok)
			assert.Equal(t, "r.1.0.mca", partial.Name())
			assert.Equal(t, StateFinished, run.State())
		})
	}
}

func TestScanRunWorkerError(t *testing.T) {
	w := loadWorld(t, buildWorld(t))
	run := NewWorldScan(w, DefaultScanOptions())
	run.scanItem = func(ctx context.Context, item WorkItem, opts ScanOptions, msg *scanMessage) error {
		if item.IsDataFile() {
			msg.data = NewScannedDataFile(item.Path, item.Framing)
			return errors.New("device vanished")
		}
		return scanWorkItem(ctx, item, opts, msg)
	}

	err := run.Run(testContext(t), nil)
	var cpe *ChildProcessError
	require.True(t, errors.As(err, &cpe))
	assert.Equal(t, "*errors.fundamental", cpe.Fault.Kind)
	assert.Equal(t, "device vanished", cpe.Fault.Message)
	assert.IsType(t, &ScannedDataFile{}, cpe.Partial)
}

func TestScanRunCancelled(t *testing.T) {
	w := loadWorld(t, buildWorld(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewWorldScan(w, DefaultScanOptions()).Run(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestScanRunStopAbandonsInFlight(t *testing.T) {
	w := loadWorld(t, buildWorld(t))
	opts := DefaultScanOptions()
	opts.Workers = 2
	run := NewWorldScan(w, opts)
	started := make(chan struct{}, len(w.WorkItems()))
	run.scanItem = func(ctx context.Context, item WorkItem, opts ScanOptions, msg *scanMessage) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(testContext(t))
	go func() {
		<-started
		cancel()
	}()
	err := run.Run(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateFinished, run.State())
	assert.Zero(t, run.Progress().Done, "abandoned items are not folded")

	// Stopping again is harmless.
	run.Stop()
}

func TestStopIdleRun(t *testing.T) {
	run := NewScanRun(nil, DefaultScanOptions())
	run.Stop()
	done, err := run.Poll()
	assert.True(t, done)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNextPollInterval(t *testing.T) {
	testCases := []struct {
		cur        time.Duration
		productive bool
		want       time.Duration
	}{
		{MinPollInterval, true, MinPollInterval},
		{MinPollInterval, false, 2 * MinPollInterval},
		{8 * time.Millisecond, true, 4 * time.Millisecond},
		{8 * time.Millisecond, false, 16 * time.Millisecond},
		{MaxPollInterval, false, MaxPollInterval},
		{3 * MaxPollInterval / 4, false, MaxPollInterval},
	}
	for _, tc := range testCases {
		assert.Equalf(t, tc.want, nextPollInterval(tc.cur, tc.productive), "%v productive=%v", tc.cur, tc.productive)
	}
}

func TestFoldOrderIndependent(t *testing.T) {
	mk := func(ok, corrupted int, region RegionStatus) Counts {
		var c Counts
		c.Chunks[ChunkOK] = ok
		c.Chunks[ChunkCorrupted] = corrupted
		c.Regions[region] = 1
		return c
	}
	a := mk(10, 1, RegionOK)
	b := mk(0, 0, RegionTooSmall)
	c := mk(4, 2, RegionOK)

	// Placeholders for a, b and c are replaced in different orders.
	placeholders := mk(0, 0, RegionOK).Add(mk(0, 0, RegionOK)).Add(mk(0, 0, RegionOK))
	zero := mk(0, 0, RegionOK)

	x := Fold(Fold(Fold(placeholders, zero, a), zero, b), zero, c)
	y := Fold(Fold(Fold(placeholders, zero, c), zero, a), zero, b)
	assert.Equal(t, x, y)
	assert.Equal(t, a.Add(b).Add(c), x)
	assert.Equal(t, 4, x.Problems())
}
