package regionfix

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mattkeenan/regionfix/pkg/region"
)

// ScanOptions controls classification and dispatch.
type ScanOptions struct {
	// EntityLimit is the largest entity count a healthy record may carry.
	EntityLimit int
	// DeleteEntities empties over-limit entity lists instead of reporting them.
	DeleteEntities bool
	// Workers is the number of scan goroutines. 1 or less scans inline.
	Workers int
}

// DefaultScanOptions returns the options used when nothing is configured.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		EntityLimit: DefaultEntityLimit,
		Workers:     DefaultWorkers,
	}
}

// regionStatusFor maps an open failure onto a container status.
func regionStatusFor(err error) RegionStatus {
	switch {
	case err == nil:
		return RegionOK
	case errors.Is(err, region.ErrNoHeader):
		return RegionTooSmall
	case errors.Is(err, region.ErrPermissionDenied):
		return RegionPermissionDenied
	default:
		return RegionUnreadable
	}
}

// ScanContainer opens and classifies the container at path.
func ScanContainer(path string, kind GridKind, opts ScanOptions) *ScannedContainer {
	sc := NewScannedContainer(path, kind)
	sc.scan(context.Background(), opts)
	return sc
}

// Rescan classifies the container again from disk.
func (sc *ScannedContainer) Rescan(opts ScanOptions) {
	sc.scan(context.Background(), opts)
}

func (sc *ScannedContainer) scan(ctx context.Context, opts ScanOptions) error {
	defer VerboseEnter()()

	sc.reset()
	r, err := openForScan(sc.Path, opts.DeleteEntities)
	if err != nil {
		sc.Scanned = true
		sc.ScanTime = time.Now()
		sc.Status = regionStatusFor(err)
		sc.Err = err.Error()
		VerboseLog(1, "%s: %s (%v)", sc.Name(), sc.Status, err)
		return nil
	}
	defer r.Close()
	return sc.classify(ctx, r, opts)
}

// openForScan opens read-only unless entities may be deleted. A container
// that cannot be opened for writing is still scanned read-only.
func openForScan(path string, writable bool) (*region.Region, error) {
	if !writable {
		return region.OpenReadOnly(path)
	}
	r, err := region.Open(path)
	if errors.Is(err, region.ErrPermissionDenied) {
		pathLog(path).Warn("container not writable, entities will be reported instead of deleted")
		return region.OpenReadOnly(path)
	}
	return r, err
}

// Classify rebuilds the slot map of sc from an open container.
func (sc *ScannedContainer) Classify(r *region.Region, opts ScanOptions) {
	sc.classify(context.Background(), r, opts)
}

func (sc *ScannedContainer) classify(ctx context.Context, r *region.Region, opts ScanOptions) error {
	sc.reset()
	for i := 0; i < region.SlotCount; i++ {
		if i%region.SlotsPerSide == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		s := region.SlotFromIndex(i)
		if res, ok := sc.classifySlot(r, s, opts); ok {
			sc.setSlot(s, res)
		}
	}

	// A misplaced record whose sectors are shared with another slot is
	// most likely a stale header entry pointing into a neighbour's data.
	for s, m := range r.Metadata() {
		if m.Status != region.StatusOverlapping {
			continue
		}
		if res, ok := sc.chunks[s]; ok && res.Status == ChunkWrongLocated {
			res.Status = ChunkSharedOffset
			sc.setSlot(s, res)
		}
	}

	sc.Scanned = true
	sc.ScanTime = time.Now()
	VerboseLog(2, "%s: %d records classified", sc.Name(), len(sc.chunks))
	return nil
}

func (sc *ScannedContainer) classifySlot(r *region.Region, s region.Slot, opts ScanOptions) (ChunkResult, bool) {
	root, err := r.ReadSlot(s.X, s.Z)
	if err != nil {
		if IsDebugEnabled("scan") {
			pathLog(sc.Path).WithFields(logrus.Fields{"slot": s.String()}).Debugf("corrupted: %v", err)
		}
		return ChunkResult{Status: ChunkCorrupted}, true
	}
	if root == nil {
		return ChunkResult{}, false
	}

	info, err := ExtractRecord(root)
	if err != nil {
		if IsDebugEnabled("scan") {
			pathLog(sc.Path).WithFields(logrus.Fields{"slot": s.String()}).Debugf("%v", err)
		}
		return ChunkResult{Status: ChunkMissingTag}, true
	}

	res := ChunkResult{Entities: info.Entities, Status: ChunkOK}
	if info.HasCoords {
		// Without a container coordinate only the local slot can be checked.
		wrong := region.SlotForGlobal(info.X, info.Z) != s
		if sc.HasCoords {
			gx, gz := sc.GlobalCoords(s)
			wrong = info.X != gx || info.Z != gz
		}
		if wrong {
			res.Status = ChunkWrongLocated
			return res, true
		}
	}

	if info.Entities > opts.EntityLimit {
		if !opts.DeleteEntities || r.ReadOnly() {
			res.Status = ChunkTooManyEntities
			return res, true
		}
		removed, err := ClearEntities(root)
		if err == nil {
			err = r.WriteSlot(s.X, s.Z, root)
		}
		if err != nil {
			pathLog(sc.Path).WithField("slot", s.String()).Warnf("could not delete entities: %v", err)
			res.Status = ChunkTooManyEntities
			return res, true
		}
		sc.EntitiesRemoved += removed
		res.Entities = 0
		VerboseLog(1, "%s: deleted %d entities from slot %s", sc.Name(), removed, s)
	}
	return res, true
}
