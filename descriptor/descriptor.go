// Package descriptor provides minimal iteration over MPEG-TS PSI
// descriptor loops (the tag-length-value records that follow a program's
// or elementary stream's fixed fields in a PAT/PMT section). It exposes
// only the raw tag and payload bytes of each descriptor; interpreting
// what a given tag means is an application concern, not this package's.
package descriptor

// Descriptor is one tag-length-value record.
type Descriptor struct {
	Tag  uint8
	Data []byte
}

// Iterator walks a consecutive run of descriptors packed back to back,
// as found in a PMT's program_info or a StreamInfo's es_info bytes.
type Iterator struct {
	buf []byte
}

// NewIterator returns an Iterator over buf, which holds zero or more
// back-to-back descriptors and nothing else.
func NewIterator(buf []byte) *Iterator {
	return &Iterator{buf: buf}
}

// Next returns the next descriptor. ok is false once the buffer is
// exhausted, or as soon as a truncated descriptor header or a length that
// runs past the end of buf is encountered — iteration simply stops rather
// than reporting an error, since a short descriptor loop is not this
// package's concern to diagnose.
func (it *Iterator) Next() (Descriptor, bool) {
	if len(it.buf) < 2 {
		return Descriptor{}, false
	}
	tag := it.buf[0]
	length := int(it.buf[1])
	end := 2 + length
	if end > len(it.buf) {
		return Descriptor{}, false
	}
	d := Descriptor{Tag: tag, Data: it.buf[2:end]}
	it.buf = it.buf[end:]
	return d, true
}
