// Package region manages one sector-addressed container file holding up
// to 1024 compressed records.
//
// The first 8192 bytes are two tables of 1024 big-endian u32 entries, one
// per slot in x-major order (index x + 32*z). The offset table packs a
// 3-byte sector offset and a 1-byte sector count; the second table holds a
// u32 timestamp. Each record body starts at offset*4096 with a u32 length
// (compression byte plus payload), the compression byte, then the payload.
package region

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Container geometry
const (
	SectorSize    = 4096
	HeaderSectors = 2
	HeaderSize    = HeaderSectors * SectorSize
	SlotsPerSide  = 32
	SlotCount     = SlotsPerSide * SlotsPerSide

	// MaxSectorCount is the largest extent a one byte count can describe.
	MaxSectorCount = 255
	// chunkHeaderSize is the u32 length plus the compression byte.
	chunkHeaderSize = 5
)

// Open failures. They are fatal for the one container.
var (
	ErrNoHeader         = errors.New("region: file smaller than header")
	ErrUnreadable       = errors.New("region: file unreadable")
	ErrPermissionDenied = errors.New("region: permission denied")
	ErrLocked           = errors.New("region: container locked by another handle")
	ErrReadOnly         = errors.New("region: container opened read-only")
	ErrTooLarge         = errors.New("region: record needs more than 255 sectors")
	ErrSlotRange        = errors.New("region: slot coordinate out of range")
	ErrSlotEmpty        = errors.New("region: slot is empty")
)

// Slot is one of the 1024 fixed positions in a container.
type Slot struct {
	X, Z int
}

// Valid reports whether both coordinates lie in [0,32).
func (s Slot) Valid() bool {
	return s.X >= 0 && s.X < SlotsPerSide && s.Z >= 0 && s.Z < SlotsPerSide
}

// Index returns the header table position of s.
func (s Slot) Index() int {
	return s.X + s.Z*SlotsPerSide
}

func (s Slot) String() string {
	return fmt.Sprintf("(%d,%d)", s.X, s.Z)
}

// SlotFromIndex is the inverse of Slot.Index.
func SlotFromIndex(i int) Slot {
	return Slot{X: i % SlotsPerSide, Z: i / SlotsPerSide}
}

// SlotForGlobal returns the slot a global record coordinate maps to inside
// its container, using floor modulo so negative coordinates work.
func SlotForGlobal(gx, gz int) Slot {
	return Slot{X: floorMod(gx, SlotsPerSide), Z: floorMod(gz, SlotsPerSide)}
}

// ContainerForGlobal returns the container coordinate holding a global
// record coordinate.
func ContainerForGlobal(gx, gz int) (int, int) {
	return floorDiv(gx, SlotsPerSide), floorDiv(gz, SlotsPerSide)
}

func floorMod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

var fileNamePattern = regexp.MustCompile(`^r\.(-?\d+)\.(-?\d+)\.(mca|mcr)$`)

// ParseFileName extracts the container coordinate from a name such as
// r.-1.4.mca.
func ParseFileName(name string) (x, z int, ok bool) {
	m := fileNamePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, 0, false
	}
	x, errX := strconv.Atoi(m[1])
	z, errZ := strconv.Atoi(m[2])
	if errX != nil || errZ != nil {
		return 0, 0, false
	}
	return x, z, true
}

// FileName returns the canonical container file name for a coordinate.
func FileName(x, z int) string {
	return fmt.Sprintf("r.%d.%d.mca", x, z)
}

// Region is an open container.
type Region struct {
	path     string
	file     *os.File
	readOnly bool
	size     int64

	offsets    [SlotCount]uint32
	timestamps [SlotCount]uint32
	meta       [SlotCount]SlotMeta
	extents    *extentIndex

	now func() time.Time
}

// Open opens path for reading and writing, holding an exclusive lock.
func Open(path string) (*Region, error) {
	return open(path, false)
}

// OpenReadOnly opens path for reading with a shared lock.
func OpenReadOnly(path string) (*Region, error) {
	return open(path, true)
}

func open(path string, readOnly bool) (*Region, error) {
	flag, lock := os.O_RDWR, unix.LOCK_EX
	if readOnly {
		flag, lock = os.O_RDONLY, unix.LOCK_SH
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, classifyOpenError(path, err)
	}
	if err := unix.Flock(int(f.Fd()), lock|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errors.Wrapf(ErrLocked, "%s", path)
		}
		return nil, errors.Wrapf(ErrUnreadable, "lock %s: %v", path, err)
	}

	r := &Region{path: path, file: f, readOnly: readOnly, now: time.Now}
	if err := r.load(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func classifyOpenError(path string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return errors.Wrapf(ErrPermissionDenied, "open %s: %v", path, err)
	}
	return errors.Wrapf(ErrUnreadable, "open %s: %v", path, err)
}

func (r *Region) load() error {
	info, err := r.file.Stat()
	if err != nil {
		return errors.Wrapf(ErrUnreadable, "stat %s: %v", r.path, err)
	}
	r.size = info.Size()
	if r.size < HeaderSize {
		return errors.Wrapf(ErrNoHeader, "%s is %d bytes", r.path, r.size)
	}

	header := make([]byte, HeaderSize)
	if _, err := r.file.ReadAt(header, 0); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return errors.Wrapf(ErrPermissionDenied, "read header of %s: %v", r.path, err)
		}
		return errors.Wrapf(ErrUnreadable, "read header of %s: %v", r.path, err)
	}
	for i := 0; i < SlotCount; i++ {
		r.offsets[i] = binary.BigEndian.Uint32(header[i*4:])
		r.timestamps[i] = binary.BigEndian.Uint32(header[SectorSize+i*4:])
	}
	r.computeMetadata()
	return nil
}

// Close releases the lock and the file.
func (r *Region) Close() error {
	if r.file == nil {
		return nil
	}
	unix.Flock(int(r.file.Fd()), unix.LOCK_UN)
	err := r.file.Close()
	r.file = nil
	return err
}

// Path returns the container path.
func (r *Region) Path() string { return r.path }

// Size returns the current file size in bytes.
func (r *Region) Size() int64 { return r.size }

// ReadOnly reports whether the handle refuses writes.
func (r *Region) ReadOnly() bool { return r.readOnly }

// Timestamp returns the last-write time recorded for a slot.
func (r *Region) Timestamp(x, z int) (time.Time, error) {
	s := Slot{X: x, Z: z}
	if !s.Valid() {
		return time.Time{}, errors.Wrapf(ErrSlotRange, "%s", s)
	}
	return time.Unix(int64(r.timestamps[s.Index()]), 0), nil
}

// CountChunks returns the number of slots with a non-empty header entry.
func (r *Region) CountChunks() int {
	n := 0
	for i := range r.meta {
		if r.meta[i].Status != StatusEmpty {
			n++
		}
	}
	return n
}

// Create writes an empty container with a zeroed header at path.
func Create(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		f.Close()
		return errors.Wrapf(err, "write header of %s", path)
	}
	return f.Close()
}

func unpackEntry(e uint32) (offset uint32, sectors uint8) {
	return e >> 8, uint8(e & 0xff)
}

func packEntry(offset uint32, sectors uint8) uint32 {
	return offset<<8 | uint32(sectors)
}
