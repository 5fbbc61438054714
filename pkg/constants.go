package regionfix

import (
	"strings"
	"time"
)

// ChunkStatus is the classification of one slot after a scan.
type ChunkStatus int

const (
	ChunkNotCreated ChunkStatus = iota
	ChunkOK
	ChunkCorrupted
	ChunkWrongLocated
	ChunkTooManyEntities
	ChunkSharedOffset
	ChunkMissingTag

	numChunkStatuses
)

var chunkStatusNames = [numChunkStatuses]string{
	ChunkNotCreated:      "not-created",
	ChunkOK:              "ok",
	ChunkCorrupted:       "corrupted",
	ChunkWrongLocated:    "wrong-located",
	ChunkTooManyEntities: "too-many-entities",
	ChunkSharedOffset:    "shared-offset",
	ChunkMissingTag:      "missing-tag",
}

func (s ChunkStatus) String() string {
	if s >= 0 && s < numChunkStatuses {
		return chunkStatusNames[s]
	}
	return "unknown"
}

// ChunkStatusFromName returns the status constant from a name (case-insensitive)
func ChunkStatusFromName(name string) (ChunkStatus, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range chunkStatusNames {
		if n == name {
			return ChunkStatus(i), true
		}
	}
	return 0, false
}

// ChunkStatuses lists every status in display order.
func ChunkStatuses() []ChunkStatus {
	out := make([]ChunkStatus, numChunkStatuses)
	for i := range out {
		out[i] = ChunkStatus(i)
	}
	return out
}

// RegionStatus is the container-level classification.
type RegionStatus int

const (
	RegionOK RegionStatus = iota
	RegionTooSmall
	RegionUnreadable
	RegionPermissionDenied

	numRegionStatuses
)

var regionStatusNames = [numRegionStatuses]string{
	RegionOK:               "ok",
	RegionTooSmall:         "too-small",
	RegionUnreadable:       "unreadable",
	RegionPermissionDenied: "permission-denied",
}

func (s RegionStatus) String() string {
	if s >= 0 && s < numRegionStatuses {
		return regionStatusNames[s]
	}
	return "unknown"
}

// RegionStatusFromName returns the container status constant from a name
func RegionStatusFromName(name string) (RegionStatus, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range regionStatusNames {
		if n == name {
			return RegionStatus(i), true
		}
	}
	return 0, false
}

// DataStatus is the classification of a side-car data file.
type DataStatus int

const (
	DataOK DataStatus = iota
	DataCorrupted
	DataUnreadable
	DataPermissionDenied

	numDataStatuses
)

var dataStatusNames = [numDataStatuses]string{
	DataOK:               "ok",
	DataCorrupted:        "corrupted",
	DataUnreadable:       "unreadable",
	DataPermissionDenied: "permission-denied",
}

func (s DataStatus) String() string {
	if s >= 0 && s < numDataStatuses {
		return dataStatusNames[s]
	}
	return "unknown"
}

// ChunkStatusSet selects which chunk faults an operation acts on.
type ChunkStatusSet uint16

// NewChunkStatusSet builds a set from statuses.
func NewChunkStatusSet(statuses ...ChunkStatus) ChunkStatusSet {
	var set ChunkStatusSet
	for _, s := range statuses {
		set |= 1 << uint(s)
	}
	return set
}

// Has reports whether s is selected.
func (set ChunkStatusSet) Has(s ChunkStatus) bool {
	return set&(1<<uint(s)) != 0
}

// Statuses returns the selected statuses in order.
func (set ChunkStatusSet) Statuses() []ChunkStatus {
	var out []ChunkStatus
	for s := ChunkStatus(0); s < numChunkStatuses; s++ {
		if set.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// ParseChunkStatusSet parses a comma-separated list of status names.
func ParseChunkStatusSet(names string) (ChunkStatusSet, error) {
	var set ChunkStatusSet
	for _, name := range strings.Split(names, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		s, ok := ChunkStatusFromName(name)
		if !ok {
			return 0, &UnknownStatusError{Name: name}
		}
		set |= NewChunkStatusSet(s)
	}
	return set, nil
}

// UnknownStatusError is returned for a status name that does not exist.
type UnknownStatusError struct {
	Name string
}

func (e *UnknownStatusError) Error() string {
	return "unknown chunk status: " + strings.TrimSpace(e.Name)
}

// Repairable and removable defaults used by the CLI
var (
	RepairableStatuses = NewChunkStatusSet(ChunkCorrupted, ChunkWrongLocated, ChunkMissingTag)
	FaultStatuses      = NewChunkStatusSet(ChunkCorrupted, ChunkWrongLocated, ChunkTooManyEntities, ChunkSharedOffset, ChunkMissingTag)
)

// Scan defaults
const (
	DefaultEntityLimit = 300
	DefaultWorkers     = 1

	// Coordinator poll interval bounds
	MinPollInterval = time.Microsecond
	MaxPollInterval = 100 * time.Millisecond
)

// File constants
const (
	BackupDirName = ".regionfix-backup"
	LevelDatName  = "level.dat"
)
