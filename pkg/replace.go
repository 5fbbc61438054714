package regionfix

import (
	"path/filepath"

	"github.com/mattkeenan/regionfix/pkg/region"
)

// backupContainer returns the scan of the container named name in grid g.
// Containers the backup world already scanned are reused, others are
// scanned read-only once and cached for the lifetime of the Fixer.
func (f *Fixer) backupContainer(g *Grid, name string) *ScannedContainer {
	if sc, ok := g.containers[name]; ok && sc.Scanned {
		return sc
	}
	path := filepath.Join(g.Dir, name)
	if sc, ok := f.backups[path]; ok {
		return sc
	}
	opts := f.Scan
	opts.DeleteEntities = false
	sc := ScanContainer(path, g.Kind, opts)
	f.backups[path] = sc
	return sc
}

// ReplaceChunks overwrites every slot whose status is in statuses with
// the same slot from the first backup that holds a healthy record there.
// Backups are tried in order. It returns how many slots were replaced.
func (f *Fixer) ReplaceChunks(sc *ScannedContainer, backups []*Grid, statuses ChunkStatusSet) int {
	defer VerboseEnter()()

	slots := sc.Slots(statuses)
	if len(slots) == 0 || len(backups) == 0 {
		return 0
	}
	r := f.openTarget(sc)
	if r == nil {
		return 0
	}
	defer r.Close()

	sources := make(map[string]*region.Region)
	defer func() {
		for _, br := range sources {
			br.Close()
		}
	}()
	source := func(path string) (*region.Region, error) {
		if br, ok := sources[path]; ok {
			return br, nil
		}
		br, err := region.OpenReadOnly(path)
		if err != nil {
			return nil, err
		}
		sources[path] = br
		return br, nil
	}

	replaced := 0
	for _, s := range slots {
		done := false
		for _, g := range backups {
			bsc := f.backupContainer(g, sc.Name())
			if bsc.Status != RegionOK {
				VerboseLog(1, "%s: backup %s skipped (%s)", sc.Name(), bsc.Path, bsc.Status)
				continue
			}
			res, ok := bsc.Chunk(s.X, s.Z)
			if !ok || res.Status != ChunkOK {
				VerboseLog(2, "%s: backup %s has no healthy record in slot %s", sc.Name(), bsc.Path, s)
				continue
			}
			br, err := source(bsc.Path)
			if err != nil {
				pathLog(bsc.Path).Warnf("backup unreadable: %v", err)
				continue
			}
			root, err := br.ReadSlot(s.X, s.Z)
			if err != nil || root == nil {
				slotLog(bsc, s).Warnf("backup record unreadable: %v", err)
				continue
			}
			if err := r.UnlinkSlot(s.X, s.Z); err != nil {
				slotLog(sc, s).Warnf("unlink failed: %v", err)
				break
			}
			if err := r.WriteSlot(s.X, s.Z, root); err != nil {
				// The slot is now empty on disk.
				slotLog(sc, s).Warnf("write failed: %v", err)
				sc.clearSlot(s)
				break
			}
			sc.setSlot(s, ChunkResult{Entities: res.Entities, Status: ChunkOK})
			replaced++
			done = true
			break
		}
		if !done {
			VerboseLog(1, "%s: slot %s not replaced", sc.Name(), s)
		}
	}
	VerboseLog(1, "%s: replaced %d of %d records", sc.Name(), replaced, len(slots))
	return replaced
}

// ReplaceContainer copies the whole container from the first backup that
// opens without a container-level fault, then rescans it.
func (f *Fixer) ReplaceContainer(sc *ScannedContainer, backups []*Grid) bool {
	defer VerboseEnter()()

	for _, g := range backups {
		path := filepath.Join(g.Dir, sc.Name())
		br, err := region.OpenReadOnly(path)
		if err != nil {
			VerboseLog(1, "%s: backup %s skipped: %v", sc.Name(), path, err)
			continue
		}
		br.Close()

		if err := f.snapshot.save(sc.Path); err != nil {
			// A container that cannot be read cannot be copied either.
			VerboseLog(1, "%s: no pre-repair copy: %v", sc.Name(), err)
		}
		if err := region.CopyFile(path, sc.Path); err != nil {
			pathLog(sc.Path).Warnf("copy from %s failed: %v", path, err)
			return false
		}
		opts := f.Scan
		opts.DeleteEntities = false
		sc.Rescan(opts)
		VerboseLog(1, "%s: replaced from %s", sc.Name(), path)
		return true
	}
	pathLog(sc.Path).Warn("no usable backup container")
	return false
}
