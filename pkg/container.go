package regionfix

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/mattkeenan/regionfix/pkg/region"
)

// ChunkResult is the scan outcome of one slot.
type ChunkResult struct {
	Entities int
	Status   ChunkStatus
}

// ScannedContainer is the scan state of one container file. Slots that
// hold no record are absent from the map.
type ScannedContainer struct {
	Path      string
	Kind      GridKind
	X, Z      int
	HasCoords bool

	Scanned         bool
	Status          RegionStatus
	Err             string
	ScanTime        time.Time
	EntitiesRemoved int

	chunks map[region.Slot]ChunkResult
	counts [numChunkStatuses]int
}

// NewScannedContainer returns an unscanned container for path, taking the
// region coordinate from the file name when it has the canonical form.
func NewScannedContainer(path string, kind GridKind) *ScannedContainer {
	sc := &ScannedContainer{
		Path:   path,
		Kind:   kind,
		chunks: make(map[region.Slot]ChunkResult),
	}
	sc.X, sc.Z, sc.HasCoords = region.ParseFileName(filepath.Base(path))
	return sc
}

// Name returns the container file name.
func (sc *ScannedContainer) Name() string {
	return filepath.Base(sc.Path)
}

func (sc *ScannedContainer) setSlot(s region.Slot, res ChunkResult) {
	if old, ok := sc.chunks[s]; ok {
		sc.counts[old.Status]--
	}
	sc.chunks[s] = res
	sc.counts[res.Status]++
}

func (sc *ScannedContainer) clearSlot(s region.Slot) {
	if old, ok := sc.chunks[s]; ok {
		sc.counts[old.Status]--
		delete(sc.chunks, s)
	}
}

func (sc *ScannedContainer) reset() {
	sc.chunks = make(map[region.Slot]ChunkResult)
	sc.counts = [numChunkStatuses]int{}
	sc.Scanned = false
	sc.EntitiesRemoved = 0
	sc.Err = ""
	sc.Status = RegionOK
}

// Chunk returns the result for slot (x, z).
func (sc *ScannedContainer) Chunk(x, z int) (ChunkResult, bool) {
	res, ok := sc.chunks[region.Slot{X: x, Z: z}]
	return res, ok
}

// Len returns the number of slots holding a record.
func (sc *ScannedContainer) Len() int {
	return len(sc.chunks)
}

// Count returns the cached number of slots with status s.
func (sc *ScannedContainer) Count(s ChunkStatus) int {
	if s < 0 || s >= numChunkStatuses {
		return 0
	}
	return sc.counts[s]
}

// StatusCounts returns a copy of the cached per-status counts.
func (sc *ScannedContainer) StatusCounts() [numChunkStatuses]int {
	return sc.counts
}

// RecountStatuses rebuilds the per-status counts from the slot map and
// returns them.
func (sc *ScannedContainer) RecountStatuses() [numChunkStatuses]int {
	var counts [numChunkStatuses]int
	for _, res := range sc.chunks {
		counts[res.Status]++
	}
	sc.counts = counts
	return counts
}

// Slots returns the slots whose status is in set, in slot index order.
func (sc *ScannedContainer) Slots(set ChunkStatusSet) []region.Slot {
	var out []region.Slot
	for s, res := range sc.chunks {
		if set.Has(res.Status) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index() < out[j].Index() })
	return out
}

// GlobalCoords returns the coordinate a record in slot s must declare.
func (sc *ScannedContainer) GlobalCoords(s region.Slot) (int, int) {
	return sc.X*region.SlotsPerSide + s.X, sc.Z*region.SlotsPerSide + s.Z
}

// Counts summarises the container for aggregation. An unscanned container
// contributes nothing.
func (sc *ScannedContainer) Counts() Counts {
	var c Counts
	if sc == nil || !sc.Scanned {
		return c
	}
	c.Chunks = sc.counts
	c.Regions[sc.Status] = 1
	c.EntitiesRemoved = sc.EntitiesRemoved
	return c
}

// HasProblems reports whether the container or any of its slots is faulty.
func (sc *ScannedContainer) HasProblems() bool {
	return sc.Counts().Problems() > 0
}
