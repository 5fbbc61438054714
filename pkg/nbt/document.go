package nbt

import (
	"bufio"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Framing selects how a stand-alone document is wrapped on disk. There is
// no detection: legacy side-car files that are stored raw must be read with
// FramingNone.
type Framing int

const (
	FramingGzip Framing = iota
	FramingNone
)

func (f Framing) String() string {
	switch f {
	case FramingGzip:
		return "gzip"
	case FramingNone:
		return "none"
	default:
		return "unknown"
	}
}

// ReadDocument reads a root compound using the given framing.
func ReadDocument(r io.Reader, framing Framing) (*Compound, string, error) {
	switch framing {
	case FramingNone:
		return Decode(bufio.NewReader(r))
	case FramingGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, "", errors.Wrapf(ErrMalformed, "gzip header: %v", err)
		}
		defer zr.Close()
		root, name, err := Decode(bufio.NewReader(zr))
		if err != nil {
			return nil, "", err
		}
		return root, name, nil
	default:
		return nil, "", errors.Errorf("nbt: unknown framing %d", framing)
	}
}

// WriteDocument writes root with the given framing.
func WriteDocument(w io.Writer, name string, root *Compound, framing Framing) error {
	data, err := Marshal(name, root)
	if err != nil {
		return err
	}
	switch framing {
	case FramingNone:
		_, err = w.Write(data)
		return errors.Wrap(err, "write document")
	case FramingGzip:
		zw := gzip.NewWriter(w)
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return errors.Wrap(err, "gzip document")
		}
		return errors.Wrap(zw.Close(), "finish gzip document")
	default:
		return errors.Errorf("nbt: unknown framing %d", framing)
	}
}

// ReadFile reads a document file from disk.
func ReadFile(path string, framing Framing) (*Compound, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	return ReadDocument(f, framing)
}

// WriteFile writes a document file to disk, replacing any existing file.
func WriteFile(path, name string, root *Compound, framing Framing) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteDocument(f, name, root, framing); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
