package region

import (
	"cmp"

	zcsl "github.com/mattkeenan/zerocopyskiplist"
)

// Extent is a contiguous run of sectors allocated to one slot.
type Extent struct {
	Start uint32
	Count uint32
	Slot  Slot
}

// End returns the first sector after the extent.
func (e Extent) End() uint32 { return e.Start + e.Count }

// Overlaps reports whether e and o share a sector.
func (e Extent) Overlaps(o Extent) bool {
	return e.Start < o.End() && o.Start < e.End()
}

// key orders extents by start sector; the slot index breaks ties so two
// slots claiming the same start both stay in the index.
func (e *Extent) key() uint64 {
	return uint64(e.Start)<<16 | uint64(e.Slot.Index())
}

// extentIndex keeps the live extents sorted by start sector.
type extentIndex struct {
	list   *zcsl.ZeroCopySkiplist[Extent, uint64, int]
	bySlot map[int]uint64
}

func newExtentIndex() *extentIndex {
	getKey := func(e *Extent) uint64 { return e.key() }
	getSize := func(e *Extent) int { return int(e.Count) }
	return &extentIndex{
		list:   zcsl.MakeZeroCopySkiplist[Extent, uint64, int](16, getKey, getSize, cmp.Compare[uint64]),
		bySlot: make(map[int]uint64),
	}
}

func (x *extentIndex) insert(e Extent) {
	x.remove(e.Slot)
	x.list.Insert(&e, e.Slot.Index())
	x.bySlot[e.Slot.Index()] = e.key()
}

func (x *extentIndex) remove(s Slot) {
	key, ok := x.bySlot[s.Index()]
	if !ok {
		return
	}
	x.list.Delete(key)
	delete(x.bySlot, s.Index())
}

func (x *extentIndex) len() int {
	return x.list.Length()
}

// each visits extents in ascending start order until fn returns false.
func (x *extentIndex) each(fn func(Extent) bool) {
	for n := x.list.First(); n != nil; n = n.Next() {
		if !fn(*n.Item()) {
			return
		}
	}
}

func (x *extentIndex) sorted() []Extent {
	out := make([]Extent, 0, x.len())
	x.each(func(e Extent) bool {
		out = append(out, e)
		return true
	})
	return out
}

// overlapping returns every slot whose extent intersects another one.
func (x *extentIndex) overlapping() []Slot {
	var (
		active  []Extent
		flagged = make(map[int]bool)
		out     []Slot
	)
	mark := func(s Slot) {
		if !flagged[s.Index()] {
			flagged[s.Index()] = true
			out = append(out, s)
		}
	}
	x.each(func(e Extent) bool {
		// Drop extents that end before this one starts; the rest all
		// start at or before e.Start and reach past it.
		kept := active[:0]
		for _, a := range active {
			if a.End() > e.Start {
				kept = append(kept, a)
			}
		}
		active = kept
		for _, a := range active {
			mark(a.Slot)
			mark(e.Slot)
		}
		active = append(active, e)
		return true
	})
	return out
}

// firstFit returns the lowest start sector of a free run of need sectors
// below limit, ignoring the extent owned by skip. Sectors below the header
// are never free.
func (x *extentIndex) firstFit(need uint32, limit uint32, skip Slot) (uint32, bool) {
	cursor := uint32(HeaderSectors)
	found := false
	x.each(func(e Extent) bool {
		if e.Slot == skip {
			return true
		}
		if e.Start >= cursor && e.Start-cursor >= need {
			found = true
			return false
		}
		if e.End() > cursor {
			cursor = e.End()
		}
		return true
	})
	if found {
		return cursor, true
	}
	if limit > cursor && limit-cursor >= need {
		return cursor, true
	}
	return 0, false
}

// Extents returns the live extents sorted by start sector.
func (r *Region) Extents() []Extent {
	return r.extents.sorted()
}
