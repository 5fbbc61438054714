package region

import (
	"encoding/binary"
)

// SlotStatus is the header-level health of one slot, derived without
// decompressing anything.
type SlotStatus int

const (
	StatusEmpty SlotStatus = iota
	StatusOK
	StatusInHeader
	StatusMismatchedLength
	StatusOutOfFile
	StatusOverlapping
	StatusZeroLength
)

func (s SlotStatus) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusOK:
		return "ok"
	case StatusInHeader:
		return "in-header"
	case StatusMismatchedLength:
		return "mismatched-length"
	case StatusOutOfFile:
		return "out-of-file"
	case StatusOverlapping:
		return "overlapping"
	case StatusZeroLength:
		return "zero-length"
	default:
		return "unknown"
	}
}

// Faulty reports whether a slot with this status holds an unusable
// allocation.
func (s SlotStatus) Faulty() bool {
	return s != StatusEmpty && s != StatusOK
}

// SlotMeta is the decoded header entry of one slot.
type SlotMeta struct {
	Slot        Slot
	Offset      uint32
	Sectors     uint8
	Timestamp   uint32
	Length      uint32 // record length prefix, 0 when it could not be read
	Compression Compression
	Status      SlotStatus

	// base is Status before overlap detection is applied.
	base SlotStatus
}

// End returns the first sector after the slot's extent.
func (m SlotMeta) End() uint32 {
	return m.Offset + uint32(m.Sectors)
}

// Metadata returns the header view of every slot.
func (r *Region) Metadata() map[Slot]SlotMeta {
	out := make(map[Slot]SlotMeta, SlotCount)
	for i := range r.meta {
		out[r.meta[i].Slot] = r.meta[i]
	}
	return out
}

// SlotMetadata returns the header view of one slot.
func (r *Region) SlotMetadata(x, z int) (SlotMeta, bool) {
	s := Slot{X: x, Z: z}
	if !s.Valid() {
		return SlotMeta{}, false
	}
	return r.meta[s.Index()], true
}

func (r *Region) computeMetadata() {
	r.extents = newExtentIndex()
	for i := 0; i < SlotCount; i++ {
		r.meta[i] = r.readSlotMeta(i)
		if m := r.meta[i]; indexable(m) {
			r.extents.insert(Extent{Start: m.Offset, Count: uint32(m.Sectors), Slot: m.Slot})
		}
	}
	r.applyOverlaps()
}

// indexable reports whether a slot's extent lies inside the data area and
// therefore constrains allocation.
func indexable(m SlotMeta) bool {
	switch m.base {
	case StatusOK, StatusMismatchedLength, StatusZeroLength:
		return m.Sectors > 0
	}
	return false
}

func (r *Region) readSlotMeta(i int) SlotMeta {
	offset, sectors := unpackEntry(r.offsets[i])
	m := SlotMeta{
		Slot:      SlotFromIndex(i),
		Offset:    offset,
		Sectors:   sectors,
		Timestamp: r.timestamps[i],
	}
	m.base = r.baseStatus(&m)
	m.Status = m.base
	return m
}

func (r *Region) baseStatus(m *SlotMeta) SlotStatus {
	switch {
	case m.Offset == 0 && m.Sectors == 0:
		return StatusEmpty
	case m.Offset == 0:
		// A count without an offset points nowhere; it is still empty.
		return StatusEmpty
	case m.Sectors == 0:
		return StatusZeroLength
	case m.Offset < HeaderSectors:
		return StatusInHeader
	case int64(m.End())*SectorSize > r.size:
		return StatusOutOfFile
	}

	var hdr [chunkHeaderSize]byte
	if _, err := r.file.ReadAt(hdr[:], int64(m.Offset)*SectorSize); err != nil {
		return StatusOutOfFile
	}
	m.Length = binary.BigEndian.Uint32(hdr[:4])
	m.Compression = Compression(hdr[4])
	switch {
	case m.Length == 0:
		return StatusZeroLength
	case int64(m.Length)+4 > int64(m.Sectors)*SectorSize:
		return StatusMismatchedLength
	}
	return StatusOK
}

// applyOverlaps resets every slot to its base status and then marks healthy
// slots whose extents intersect another live extent.
func (r *Region) applyOverlaps() {
	for i := range r.meta {
		r.meta[i].Status = r.meta[i].base
	}
	for _, s := range r.extents.overlapping() {
		m := &r.meta[s.Index()]
		if m.base == StatusOK {
			m.Status = StatusOverlapping
		}
	}
}

// refreshSlot re-reads one slot's header state after a mutation.
func (r *Region) refreshSlot(i int) {
	r.extents.remove(SlotFromIndex(i))
	r.meta[i] = r.readSlotMeta(i)
	if m := r.meta[i]; indexable(m) {
		r.extents.insert(Extent{Start: m.Offset, Count: uint32(m.Sectors), Slot: m.Slot})
	}
	r.applyOverlaps()
}
