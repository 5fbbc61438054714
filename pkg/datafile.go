package regionfix

import (
	"io/fs"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/mattkeenan/regionfix/pkg/nbt"
)

// ScannedDataFile is the scan state of a stand-alone document such as
// level.dat or a player file.
type ScannedDataFile struct {
	Path     string
	Framing  nbt.Framing
	Scanned  bool
	Status   DataStatus
	Err      string
	ScanTime time.Time
}

// NewScannedDataFile returns an unscanned data file.
func NewScannedDataFile(path string, framing nbt.Framing) *ScannedDataFile {
	return &ScannedDataFile{Path: path, Framing: framing}
}

// Name returns the file name.
func (df *ScannedDataFile) Name() string {
	return filepath.Base(df.Path)
}

// dataStatusFor maps a read failure onto a data file status.
func dataStatusFor(err error) DataStatus {
	switch {
	case err == nil:
		return DataOK
	case errors.Is(err, nbt.ErrMalformed):
		return DataCorrupted
	case errors.Is(err, fs.ErrPermission):
		return DataPermissionDenied
	default:
		return DataUnreadable
	}
}

// Scan decodes the file and records its status.
func (df *ScannedDataFile) Scan() {
	_, _, err := nbt.ReadFile(df.Path, df.Framing)
	df.Scanned = true
	df.ScanTime = time.Now()
	df.Status = dataStatusFor(err)
	df.Err = ""
	if err != nil {
		df.Err = err.Error()
		VerboseLog(1, "%s: %s (%v)", df.Name(), df.Status, err)
	}
}

// ScanDataFile returns the scanned state of the document at path.
func ScanDataFile(path string, framing nbt.Framing) *ScannedDataFile {
	df := NewScannedDataFile(path, framing)
	df.Scan()
	return df
}

// Counts summarises the data file for aggregation.
func (df *ScannedDataFile) Counts() Counts {
	var c Counts
	if df == nil || !df.Scanned {
		return c
	}
	c.Data[df.Status] = 1
	return c
}
