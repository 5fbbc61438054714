package regionfix

import (
	"bytes"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/mattkeenan/regionfix/pkg/nbt"
	"github.com/mattkeenan/regionfix/pkg/region"
)

// maxSalvageSize bounds the plaintext collected from a damaged stream
const maxSalvageSize = 64 << 20

// Fixer applies removals, repairs and replacements to scanned containers.
// Failures are logged and counted as not fixed; they never abort a run.
type Fixer struct {
	Scan               ScanOptions
	BackupBeforeRepair bool

	snapshot *preRepairSnapshot
	backups  map[string]*ScannedContainer
}

// NewFixer returns a Fixer. Backup containers are scanned with opts.
func NewFixer(opts ScanOptions, backupBeforeRepair bool) *Fixer {
	f := &Fixer{
		Scan:               opts,
		BackupBeforeRepair: backupBeforeRepair,
		backups:            make(map[string]*ScannedContainer),
	}
	if backupBeforeRepair {
		f.snapshot = newPreRepairSnapshot()
	}
	return f
}

func slotLog(sc *ScannedContainer, s region.Slot) *logrus.Entry {
	return pathLog(sc.Path).WithField("slot", s.String())
}

// openTarget opens a scanned container for mutation, taking the pre-repair
// copy first when enabled. It returns nil after logging on any failure.
func (f *Fixer) openTarget(sc *ScannedContainer) *region.Region {
	if !sc.Scanned || sc.Status != RegionOK {
		return nil
	}
	if err := f.snapshot.save(sc.Path); err != nil {
		pathLog(sc.Path).Warnf("skipping container: %v", err)
		return nil
	}
	r, err := region.Open(sc.Path)
	if err != nil {
		pathLog(sc.Path).Warnf("cannot open for writing: %v", err)
		return nil
	}
	return r
}

// RemoveChunks unlinks every slot whose status is in statuses and returns
// how many were removed.
func (f *Fixer) RemoveChunks(sc *ScannedContainer, statuses ChunkStatusSet) int {
	defer VerboseEnter()()

	slots := sc.Slots(statuses)
	if len(slots) == 0 {
		return 0
	}
	r := f.openTarget(sc)
	if r == nil {
		return 0
	}
	defer r.Close()

	removed := 0
	for _, s := range slots {
		if err := r.UnlinkSlot(s.X, s.Z); err != nil {
			slotLog(sc, s).Warnf("remove failed: %v", err)
			continue
		}
		sc.clearSlot(s)
		removed++
	}
	VerboseLog(1, "%s: removed %d records", sc.Name(), removed)
	return removed
}

// RepairContainer runs the repair for each selected repairable status and
// returns how many slots ended up healthy.
func (f *Fixer) RepairContainer(sc *ScannedContainer, statuses ChunkStatusSet) int {
	defer VerboseEnter()()

	slots := sc.Slots(statuses & RepairableStatuses)
	if len(slots) == 0 {
		return 0
	}
	r := f.openTarget(sc)
	if r == nil {
		return 0
	}
	defer r.Close()

	repaired := 0
	for _, s := range slots {
		// An earlier repair in this pass may have moved or overwritten it.
		res, ok := sc.chunks[s]
		if !ok || !statuses.Has(res.Status) {
			continue
		}
		var fixed bool
		switch res.Status {
		case ChunkMissingTag:
			fixed = f.repairMissingTag(r, sc, s)
		case ChunkWrongLocated:
			fixed = f.repairWrongLocated(r, sc, s)
		case ChunkCorrupted:
			fixed = f.repairCorrupted(r, sc, s)
		}
		if fixed {
			repaired++
		}
	}
	VerboseLog(1, "%s: repaired %d of %d records", sc.Name(), repaired, len(slots))
	return repaired
}

// RepairMissingTag repairs only records lacking a required tag.
func (f *Fixer) RepairMissingTag(sc *ScannedContainer) int {
	return f.RepairContainer(sc, NewChunkStatusSet(ChunkMissingTag))
}

// RepairWrongLocated moves misplaced records to the slot they declare.
func (f *Fixer) RepairWrongLocated(sc *ScannedContainer) int {
	return f.RepairContainer(sc, NewChunkStatusSet(ChunkWrongLocated))
}

// RepairCorrupted salvages corrupted records where the heuristic accepts.
func (f *Fixer) RepairCorrupted(sc *ScannedContainer) int {
	return f.RepairContainer(sc, NewChunkStatusSet(ChunkCorrupted))
}

func (f *Fixer) repairMissingTag(r *region.Region, sc *ScannedContainer, s region.Slot) bool {
	root, err := r.ReadSlot(s.X, s.Z)
	if err != nil || root == nil {
		slotLog(sc, s).Warnf("cannot reread record: %v", err)
		return false
	}
	if err := InjectEntities(root); err != nil {
		slotLog(sc, s).Warnf("cannot add entity list: %v", err)
		return false
	}
	info, err := ExtractRecord(root)
	if err != nil {
		// Coordinates are missing too, an empty list does not help.
		slotLog(sc, s).Warnf("still incomplete: %v", err)
		return false
	}
	if err := r.WriteSlot(s.X, s.Z, root); err != nil {
		slotLog(sc, s).Warnf("write failed: %v", err)
		return false
	}
	sc.setSlot(s, ChunkResult{Entities: info.Entities, Status: ChunkOK})
	return true
}

func (f *Fixer) repairWrongLocated(r *region.Region, sc *ScannedContainer, s region.Slot) bool {
	root, err := r.ReadSlot(s.X, s.Z)
	if err != nil || root == nil {
		slotLog(sc, s).Warnf("cannot reread record: %v", err)
		return false
	}
	info, err := ExtractRecord(root)
	if err != nil || !info.HasCoords {
		slotLog(sc, s).Warnf("record has no usable coordinate: %v", err)
		return false
	}
	if cx, cz := region.ContainerForGlobal(info.X, info.Z); !sc.HasCoords || cx != sc.X || cz != sc.Z {
		slotLog(sc, s).Warnf("declared position %d,%d belongs to %s, not moved",
			info.X, info.Z, region.FileName(cx, cz))
		return false
	}

	dest := region.SlotForGlobal(info.X, info.Z)
	if old, ok := sc.chunks[dest]; ok {
		VerboseLog(1, "%s: slot %s (%s) overwritten by record from %s", sc.Name(), dest, old.Status, s)
	}
	if err := r.WriteSlot(dest.X, dest.Z, root); err != nil {
		slotLog(sc, s).Warnf("write to %s failed: %v", dest, err)
		return false
	}
	if err := r.UnlinkSlot(s.X, s.Z); err != nil {
		slotLog(sc, s).Warnf("unlink after move failed: %v", err)
		sc.setSlot(dest, ChunkResult{Entities: info.Entities, Status: ChunkOK})
		return false
	}
	sc.clearSlot(s)
	sc.setSlot(dest, ChunkResult{Entities: info.Entities, Status: ChunkOK})
	return true
}

func (f *Fixer) repairCorrupted(r *region.Region, sc *ScannedContainer, s region.Slot) bool {
	raw, err := r.RawSeekAndRead(s.X, s.Z)
	if err != nil {
		slotLog(sc, s).Debugf("raw read failed: %v", err)
		return false
	}
	root, ok := RecoverPayload(raw)
	if !ok {
		VerboseLog(2, "%s: slot %s not recoverable", sc.Name(), s)
		return false
	}
	if err := r.WriteSlot(s.X, s.Z, root); err != nil {
		slotLog(sc, s).Warnf("write failed: %v", err)
		return false
	}
	info, _ := ExtractRecord(root)
	sc.setSlot(s, ChunkResult{Entities: info.Entities, Status: ChunkOK})
	return true
}

// RecoverPayload tries to salvage a damaged compressed record. The stream
// is fed to the decompressor one byte at a time and everything produced
// before it fails is kept. The plaintext is accepted only if compressing
// it again gives exactly the stored length and it decodes as a compound.
// Damage that changes neither is indistinguishable from a good record, and
// genuine records compressed by another encoder will often be rejected.
func RecoverPayload(raw region.RawSlot) (*nbt.Compound, bool) {
	if raw.Compression != region.CompressionZlib && raw.Compression != region.CompressionGzip {
		return nil, false
	}
	plain := salvageStream(raw.Compression, raw.Data)
	if len(plain) == 0 {
		return nil, false
	}
	again, err := region.Compress(raw.Compression, plain)
	if err != nil || len(again) != raw.StoredLen() {
		return nil, false
	}
	root, _, err := nbt.Unmarshal(plain)
	if err != nil {
		return nil, false
	}
	return root, true
}

func salvageStream(c region.Compression, data []byte) []byte {
	rc, err := region.NewDecompressor(c, &oneByteReader{data: data})
	if err != nil {
		return nil
	}
	defer rc.Close()

	var out bytes.Buffer
	buf := make([]byte, region.SectorSize)
	for out.Len() <= maxSalvageSize {
		n, err := rc.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return out.Bytes()
}

// oneByteReader hands out its data one byte per Read.
type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}
