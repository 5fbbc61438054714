package region

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/google/vectorio"
	"github.com/pkg/errors"

	"github.com/mattkeenan/regionfix/pkg/nbt"
)

// HeaderFault means the slot's header entry points somewhere no record
// can be: inside the header tables or past the end of the file.
type HeaderFault struct {
	Slot   Slot
	Reason string
}

func (e *HeaderFault) Error() string {
	return fmt.Sprintf("region: slot %s header fault: %s", e.Slot, e.Reason)
}

// ChunkHeaderFault means the record's own length prefix is unusable.
type ChunkHeaderFault struct {
	Slot   Slot
	Reason string
}

func (e *ChunkHeaderFault) Error() string {
	return fmt.Sprintf("region: slot %s record header fault: %s", e.Slot, e.Reason)
}

// ChunkDataFault means the payload could not be decompressed or decoded.
type ChunkDataFault struct {
	Slot Slot
	Err  error
}

func (e *ChunkDataFault) Error() string {
	return fmt.Sprintf("region: slot %s record data fault: %v", e.Slot, e.Err)
}

func (e *ChunkDataFault) Unwrap() error { return e.Err }

// IsRecordFault reports whether err is one of the per-slot faults rather
// than an I/O or usage error.
func IsRecordFault(err error) bool {
	var hf *HeaderFault
	var chf *ChunkHeaderFault
	var cdf *ChunkDataFault
	return errors.As(err, &hf) || errors.As(err, &chf) || errors.As(err, &cdf)
}

func checkSlot(x, z int) (Slot, error) {
	s := Slot{X: x, Z: z}
	if !s.Valid() {
		return s, errors.Wrapf(ErrSlotRange, "%s", s)
	}
	return s, nil
}

// ReadSlot decodes the record at (x, z). An empty slot returns nil, nil.
func (r *Region) ReadSlot(x, z int) (*nbt.Compound, error) {
	s, err := checkSlot(x, z)
	if err != nil {
		return nil, err
	}
	m := r.meta[s.Index()]
	switch m.base {
	case StatusEmpty:
		return nil, nil
	case StatusInHeader:
		return nil, &HeaderFault{Slot: s, Reason: fmt.Sprintf("sector %d is inside the header", m.Offset)}
	case StatusOutOfFile:
		return nil, &HeaderFault{Slot: s, Reason: fmt.Sprintf("sectors %d-%d exceed file size %d", m.Offset, m.End(), r.size)}
	case StatusZeroLength:
		return nil, &ChunkHeaderFault{Slot: s, Reason: "zero length"}
	case StatusMismatchedLength:
		return nil, &ChunkHeaderFault{Slot: s, Reason: fmt.Sprintf("length %d exceeds %d allocated sectors", m.Length, m.Sectors)}
	}

	payload := make([]byte, m.Length-1)
	if _, err := r.file.ReadAt(payload, int64(m.Offset)*SectorSize+chunkHeaderSize); err != nil {
		return nil, &ChunkDataFault{Slot: s, Err: errors.Wrap(err, "read payload")}
	}
	if !m.Compression.Known() {
		return nil, &ChunkDataFault{Slot: s, Err: errors.Errorf("unknown compression %d", byte(m.Compression))}
	}
	plain, err := Decompress(m.Compression, payload)
	if err != nil {
		return nil, &ChunkDataFault{Slot: s, Err: errors.Wrapf(err, "%s decompress", m.Compression)}
	}
	root, _, err := nbt.Unmarshal(plain)
	if err != nil {
		return nil, &ChunkDataFault{Slot: s, Err: err}
	}
	return root, nil
}

// RawSlot is the undecoded byte window of a slot.
type RawSlot struct {
	Length      uint32      // stored length prefix
	Compression Compression // stored compression byte
	Data        []byte      // compressed payload as far as the file allows
}

// StoredLen is the compressed payload length the header claims.
func (rs RawSlot) StoredLen() int {
	if rs.Length == 0 {
		return 0
	}
	return int(rs.Length) - 1
}

// RawSeekAndRead returns the raw payload bytes of a slot without
// decompressing them. Only I/O errors and unreachable offsets fail.
func (r *Region) RawSeekAndRead(x, z int) (RawSlot, error) {
	s, err := checkSlot(x, z)
	if err != nil {
		return RawSlot{}, err
	}
	m := r.meta[s.Index()]
	if m.Offset == 0 {
		return RawSlot{}, errors.Wrapf(ErrSlotEmpty, "%s", s)
	}
	start := int64(m.Offset) * SectorSize
	if m.Offset < HeaderSectors || start+chunkHeaderSize > r.size {
		return RawSlot{}, &HeaderFault{Slot: s, Reason: "record header unreachable"}
	}

	var hdr [chunkHeaderSize]byte
	if _, err := r.file.ReadAt(hdr[:], start); err != nil {
		return RawSlot{}, errors.Wrapf(err, "read record header of slot %s", s)
	}
	raw := RawSlot{
		Length:      binary.BigEndian.Uint32(hdr[:4]),
		Compression: Compression(hdr[4]),
	}
	want := int64(raw.StoredLen())
	if avail := r.size - start - chunkHeaderSize; want > avail {
		want = avail
	}
	if want <= 0 {
		return raw, nil
	}
	raw.Data = make([]byte, want)
	n, err := r.file.ReadAt(raw.Data, start+chunkHeaderSize)
	if err != nil && err != io.EOF {
		return RawSlot{}, errors.Wrapf(err, "read record window of slot %s", s)
	}
	raw.Data = raw.Data[:n]
	return raw, nil
}

// WriteSlot renders, zlib-compresses and stores root at (x, z).
func (r *Region) WriteSlot(x, z int, root *nbt.Compound) error {
	plain, err := nbt.Marshal("", root)
	if err != nil {
		return errors.Wrap(err, "render record")
	}
	payload, err := Compress(CompressionZlib, plain)
	if err != nil {
		return errors.Wrap(err, "compress record")
	}
	return r.WriteRaw(x, z, CompressionZlib, payload)
}

// WriteRaw stores an already compressed payload at (x, z).
//
// Placement: reuse the slot's own healthy extent when it is large enough,
// else the first free run between live extents, else the end of the file.
// A slot whose current entry is faulty always goes to the end of the file.
func (r *Region) WriteRaw(x, z int, c Compression, payload []byte) error {
	if r.readOnly {
		return ErrReadOnly
	}
	s, err := checkSlot(x, z)
	if err != nil {
		return err
	}
	need := (len(payload) + chunkHeaderSize + SectorSize - 1) / SectorSize
	if need > MaxSectorCount {
		return errors.Wrapf(ErrTooLarge, "%d sectors for slot %s", need, s)
	}

	i := s.Index()
	m := r.meta[i]
	fileSectors := uint32((r.size + SectorSize - 1) / SectorSize)
	var start uint32
	switch {
	case m.Status == StatusOK && int(m.Sectors) >= need:
		start = m.Offset
	case m.Status.Faulty():
		start = fileSectors
	default:
		var ok bool
		start, ok = r.extents.firstFit(uint32(need), uint32(r.size/SectorSize), s)
		if !ok {
			start = fileSectors
		}
	}

	if err := r.writeBody(start, need, c, payload); err != nil {
		return err
	}
	return r.setEntry(i, start, uint8(need), uint32(r.now().Unix()))
}

// writeBody writes the record header, payload and zero padding in one
// vectored write. Appends also zero-fill up to the sector boundary.
func (r *Region) writeBody(start uint32, sectors int, c Compression, payload []byte) error {
	pos := int64(start) * SectorSize
	var prePad []byte
	if pos > r.size {
		prePad = make([]byte, pos-r.size)
		pos = r.size
	}

	hdr := make([]byte, chunkHeaderSize)
	binary.BigEndian.PutUint32(hdr, uint32(len(payload)+1))
	hdr[4] = byte(c)
	postPad := make([]byte, sectors*SectorSize-chunkHeaderSize-len(payload))

	var iovecs []syscall.Iovec
	total := 0
	for _, b := range [][]byte{prePad, hdr, payload, postPad} {
		if len(b) == 0 {
			continue
		}
		iovecs = append(iovecs, syscall.Iovec{
			Base: &b[0],
			Len:  uint64(len(b)),
		})
		total += len(b)
	}

	if _, err := r.file.Seek(pos, io.SeekStart); err != nil {
		return errors.Wrapf(err, "seek to sector %d", start)
	}
	nw, err := vectorio.WritevRaw(uintptr(r.file.Fd()), iovecs)
	if err != nil {
		return errors.Wrapf(err, "write record at sector %d", start)
	}
	if nw != total {
		return errors.Errorf("record write incomplete: wrote %d bytes, expected %d", nw, total)
	}
	if end := pos + int64(total); end > r.size {
		r.size = end
	}
	return nil
}

// setEntry persists a slot's header entries, syncs and refreshes the
// in-memory view.
func (r *Region) setEntry(i int, offset uint32, sectors uint8, timestamp uint32) error {
	entry := packEntry(offset, sectors)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], entry)
	if _, err := r.file.WriteAt(buf[:], int64(i*4)); err != nil {
		return errors.Wrapf(err, "write offset entry %d", i)
	}
	binary.BigEndian.PutUint32(buf[:], timestamp)
	if _, err := r.file.WriteAt(buf[:], int64(SectorSize+i*4)); err != nil {
		return errors.Wrapf(err, "write timestamp entry %d", i)
	}
	if err := r.file.Sync(); err != nil {
		return errors.Wrap(err, "sync container")
	}
	r.offsets[i] = entry
	r.timestamps[i] = timestamp
	r.refreshSlot(i)
	return nil
}

// UnlinkSlot clears the header entry of (x, z). The old sectors are left
// in place and become free for later writes.
func (r *Region) UnlinkSlot(x, z int) error {
	if r.readOnly {
		return ErrReadOnly
	}
	s, err := checkSlot(x, z)
	if err != nil {
		return err
	}
	return r.setEntry(s.Index(), 0, 0, 0)
}

// CopyFile copies a whole container file, used for container replacement.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errors.Wrapf(err, "read %s", src)
	}
	info, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "stat %s", src)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, info.Mode().Perm()); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "replace %s", dst)
	}
	return nil
}
