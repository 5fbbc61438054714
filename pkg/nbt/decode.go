package nbt

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	// MaxArrayLen bounds array and list lengths so a corrupted length
	// field cannot drive an enormous allocation.
	MaxArrayLen = 1 << 24
	// maxDepth bounds compound/list nesting.
	maxDepth = 512
)

type decoder struct {
	r     io.Reader
	buf   [8]byte
	depth int
}

// Decode reads a named root compound from r.
func Decode(r io.Reader) (*Compound, string, error) {
	d := &decoder{r: r}
	typ, err := d.readType()
	if err != nil {
		return nil, "", err
	}
	if typ != TagCompound {
		return nil, "", errors.Wrapf(ErrMalformed, "root tag is %s, expected Compound", typ)
	}
	name, err := d.readString()
	if err != nil {
		return nil, "", errors.Wrap(err, "root name")
	}
	root, err := d.readCompound()
	if err != nil {
		return nil, "", err
	}
	return root, name, nil
}

// Unmarshal decodes a named root compound from data.
func Unmarshal(data []byte) (*Compound, string, error) {
	return Decode(bytes.NewReader(data))
}

// DecodeTag reads the unnamed payload of a tag of type typ.
func DecodeTag(r io.Reader, typ TagType) (Tag, error) {
	d := &decoder{r: r}
	return d.readPayload(typ)
}

func (d *decoder) read(n int, what string) ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.buf[:n]); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "truncated %s: %v", what, err)
	}
	return d.buf[:n], nil
}

func (d *decoder) readType() (TagType, error) {
	b, err := d.read(1, "type id")
	if err != nil {
		return 0, err
	}
	return TagType(b[0]), nil
}

func (d *decoder) readLength(what string) (int, error) {
	b, err := d.read(4, what+" length")
	if err != nil {
		return 0, err
	}
	n := int32(binary.BigEndian.Uint32(b))
	if n < 0 || n > MaxArrayLen {
		return 0, errors.Wrapf(ErrMalformed, "implausible %s length %d", what, n)
	}
	return int(n), nil
}

func (d *decoder) readString() (string, error) {
	b, err := d.read(2, "string length")
	if err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(b))
	s := make([]byte, n)
	if _, err := io.ReadFull(d.r, s); err != nil {
		return "", errors.Wrapf(ErrMalformed, "truncated string of %d bytes: %v", n, err)
	}
	if i := invalidUTF8(s); i >= 0 {
		return "", errors.Wrapf(ErrMalformed, "invalid UTF-8 at byte %d of %d-byte string", i, n)
	}
	return string(s), nil
}

// invalidUTF8 returns the offset of the first byte that is neither UTF-8
// nor one of the two modified UTF-8 forms writers emit (C0 80 for NUL and
// encoded surrogate halves), or -1. The bytes are kept as read.
func invalidUTF8(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r != utf8.RuneError || size > 1 {
			i += size
			continue
		}
		switch {
		case i+1 < len(b) && b[i] == 0xc0 && b[i+1] == 0x80:
			i += 2
		case i+2 < len(b) && b[i] == 0xed && b[i+1]&0xe0 == 0xa0 && b[i+2]&0xc0 == 0x80:
			i += 3
		default:
			return i
		}
	}
	return -1
}

func (d *decoder) readPayload(typ TagType) (Tag, error) {
	switch typ {
	case TagEnd:
		return End{}, nil
	case TagByte:
		b, err := d.read(1, "byte")
		if err != nil {
			return nil, err
		}
		return Byte(int8(b[0])), nil
	case TagShort:
		b, err := d.read(2, "short")
		if err != nil {
			return nil, err
		}
		return Short(int16(binary.BigEndian.Uint16(b))), nil
	case TagInt:
		b, err := d.read(4, "int")
		if err != nil {
			return nil, err
		}
		return Int(int32(binary.BigEndian.Uint32(b))), nil
	case TagLong:
		b, err := d.read(8, "long")
		if err != nil {
			return nil, err
		}
		return Long(int64(binary.BigEndian.Uint64(b))), nil
	case TagFloat:
		b, err := d.read(4, "float")
		if err != nil {
			return nil, err
		}
		return Float(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case TagDouble:
		b, err := d.read(8, "double")
		if err != nil {
			return nil, err
		}
		return Double(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	case TagByteArray:
		n, err := d.readLength("byte array")
		if err != nil {
			return nil, err
		}
		// CopyN grows the buffer as data arrives, so a lying length on a
		// short stream fails before allocating the full claim.
		var buf bytes.Buffer
		if _, err := io.CopyN(&buf, d.r, int64(n)); err != nil {
			return nil, errors.Wrapf(ErrMalformed, "truncated byte array of %d bytes: %v", n, err)
		}
		return ByteArray(buf.Bytes()), nil
	case TagString:
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case TagList:
		return d.readList()
	case TagCompound:
		return d.readCompound()
	case TagIntArray:
		n, err := d.readLength("int array")
		if err != nil {
			return nil, err
		}
		out := make(IntArray, 0, min(n, 4096))
		for i := 0; i < n; i++ {
			b, err := d.read(4, "int array element")
			if err != nil {
				return nil, err
			}
			out = append(out, int32(binary.BigEndian.Uint32(b)))
		}
		return out, nil
	case TagLongArray:
		n, err := d.readLength("long array")
		if err != nil {
			return nil, err
		}
		out := make(LongArray, 0, min(n, 2048))
		for i := 0; i < n; i++ {
			b, err := d.read(8, "long array element")
			if err != nil {
				return nil, err
			}
			out = append(out, int64(binary.BigEndian.Uint64(b)))
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown tag type %d", byte(typ))
	}
}

func (d *decoder) enter() error {
	d.depth++
	if d.depth > maxDepth {
		return errors.Wrapf(ErrMalformed, "nesting deeper than %d", maxDepth)
	}
	return nil
}

func (d *decoder) readList() (*List, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer func() { d.depth-- }()

	elem, err := d.readType()
	if err != nil {
		return nil, err
	}
	if !elem.Valid() {
		return nil, errors.Wrapf(ErrMalformed, "unknown list element type %d", byte(elem))
	}
	n, err := d.readLength("list")
	if err != nil {
		return nil, err
	}
	if elem == TagEnd && n > 0 {
		return nil, errors.Wrapf(ErrMalformed, "list of End with %d elements", n)
	}
	list := &List{ElemType: elem, Items: make([]Tag, 0, min(n, 1024))}
	for i := 0; i < n; i++ {
		item, err := d.readPayload(elem)
		if err != nil {
			return nil, errors.Wrapf(err, "list element %d", i)
		}
		list.Items = append(list.Items, item)
	}
	return list, nil
}

func (d *decoder) readCompound() (*Compound, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer func() { d.depth-- }()

	c := NewCompound()
	for {
		typ, err := d.readType()
		if err != nil {
			return nil, errors.Wrap(err, "compound missing End")
		}
		if typ == TagEnd {
			return c, nil
		}
		if !typ.Valid() {
			return nil, errors.Wrapf(ErrMalformed, "unknown tag type %d in compound", byte(typ))
		}
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		tag, err := d.readPayload(typ)
		if err != nil {
			return nil, errors.Wrapf(err, "tag %q", name)
		}
		c.Set(name, tag)
	}
}
