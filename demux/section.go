package demux

import (
	"fmt"
	"log/slog"

	"github.com/mux2ts/tsdemux/packet"
)

// SectionCommonHeaderSize is the byte length of SectionCommonHeader.
const SectionCommonHeaderSize = 3

// TableSyntaxHeaderSize is the byte length of TableSyntaxHeader.
const TableSyntaxHeaderSize = 5

// SectionCommonHeader is the first 3 bytes of every PSI section.
type SectionCommonHeader struct {
	TableID                uint8
	SectionSyntaxIndicator bool
	Private                bool
	SectionLength          uint16
}

// ParseSectionCommonHeader parses the first SectionCommonHeaderSize bytes
// of buf. It does not validate buf's length; callers must ensure at least
// SectionCommonHeaderSize bytes are present.
func ParseSectionCommonHeader(buf []byte) SectionCommonHeader {
	return SectionCommonHeader{
		TableID:                buf[0],
		SectionSyntaxIndicator: buf[1]&0x80 != 0,
		Private:                buf[1]&0x40 != 0,
		SectionLength:          uint16(buf[1]&0x0F)<<8 | uint16(buf[2]),
	}
}

// TableSyntaxHeader is the 5-byte table syntax header that follows the
// common header in a long-form PSI section (PAT and PMT are both
// long-form).
type TableSyntaxHeader struct {
	ID                 uint16
	Version             uint8
	CurrentNext         bool
	SectionNumber       uint8
	LastSectionNumber   uint8
}

// ParseTableSyntaxHeader parses the first TableSyntaxHeaderSize bytes of
// buf.
func ParseTableSyntaxHeader(buf []byte) TableSyntaxHeader {
	return TableSyntaxHeader{
		ID:                uint16(buf[0])<<8 | uint16(buf[1]),
		Version:           (buf[2] >> 1) & 0x1F,
		CurrentNext:       buf[2]&0x01 != 0,
		SectionNumber:     buf[3],
		LastSectionNumber: buf[4],
	}
}

// SectionSink receives complete, CRC-valid, non-duplicate PSI sections
// from a SectionReassembler. data is the full section: common header,
// table syntax header, body, and trailing CRC.
type SectionSink interface {
	Section(ctx DemuxContext, header SectionCommonHeader, tsHeader TableSyntaxHeader, data []byte)
}

// crc32Table is the MPEG-2 CRC-32 lookup table: polynomial 0x04C11DB7, no
// reflection, computed MSB-first.
var crc32Table [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crc32Table[i] = crc
	}
}

// computeCRC32 returns the MPEG-2 CRC-32 (initial value 0xFFFFFFFF, no
// XOR-out) of data.
func computeCRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = (crc << 8) ^ crc32Table[byte(crc>>24)^b]
	}
	return crc
}

// verifySectionCRC32 checks the trailing 4 bytes of data against the
// MPEG-2 CRC-32 of the preceding bytes. Running the CRC across the whole
// buffer, CRC included, yields zero exactly when the stored value
// matches.
func verifySectionCRC32(data []byte) error {
	if computeCRC32(data) != 0 {
		return fmt.Errorf("demux: section CRC32 mismatch")
	}
	return nil
}

// SectionReassembler concatenates one PID's packet payloads into whole PSI
// sections, validates each section's CRC-32, and suppresses sections whose
// table_syntax_header.version matches the previously delivered one, before
// handing accepted sections to a SectionSink. It implements PacketFilter
// itself, so it can be installed directly in a Filters table, or wrapped
// by a PATFilter/PMTFilter.
type SectionReassembler struct {
	sink           SectionSink
	log            *slog.Logger
	buf            []byte
	haveVersion    bool
	currentVersion uint8
}

// SectionReassemblerOption configures a SectionReassembler.
type SectionReassemblerOption func(*SectionReassembler)

// WithSectionLogger sets the logger used for discarded/malformed sections.
func WithSectionLogger(log *slog.Logger) SectionReassemblerOption {
	return func(r *SectionReassembler) { r.log = log }
}

// NewSectionReassembler returns a SectionReassembler delivering accepted
// sections to sink.
func NewSectionReassembler(sink SectionSink, opts ...SectionReassemblerOption) *SectionReassembler {
	r := &SectionReassembler{sink: sink, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Consume implements PacketFilter.
func (r *SectionReassembler) Consume(ctx DemuxContext, pk packet.Packet) {
	payload, ok := pk.Payload()
	if !ok || len(payload) == 0 {
		return
	}

	if pk.PayloadUnitStartIndicator() {
		pointerField := int(payload[0])
		if 1+pointerField > len(payload) {
			r.buf = nil
			return
		}
		// Bytes before the pointer field complete whatever section was
		// already in progress from the previous packet(s).
		if pointerField > 0 && r.buf != nil {
			r.buf = append(r.buf, payload[1:1+pointerField]...)
			r.drain(ctx)
		}
		r.buf = append([]byte(nil), payload[1+pointerField:]...)
	} else {
		if r.buf == nil {
			return // no section in progress; nothing to continue
		}
		r.buf = append(r.buf, payload...)
	}

	r.drain(ctx)
}

// drain delivers as many complete sections as buf currently holds.
func (r *SectionReassembler) drain(ctx DemuxContext) {
	for {
		if len(r.buf) == 0 {
			return
		}
		if r.buf[0] == 0xFF {
			r.buf = nil // stuffing bytes: nothing more follows
			return
		}
		if len(r.buf) < SectionCommonHeaderSize {
			return // need more packets
		}
		header := ParseSectionCommonHeader(r.buf)
		total := SectionCommonHeaderSize + int(header.SectionLength)
		if len(r.buf) < total {
			return // need more packets
		}

		section := r.buf[:total]
		r.buf = r.buf[total:]
		r.deliver(ctx, header, section)
	}
}

func (r *SectionReassembler) deliver(ctx DemuxContext, header SectionCommonHeader, section []byte) {
	if len(section) < SectionCommonHeaderSize+TableSyntaxHeaderSize+4 {
		r.log.Warn("demux: section too short to hold a table syntax header and CRC", "len", len(section))
		return
	}
	if err := verifySectionCRC32(section); err != nil {
		r.log.Warn("demux: discarding section", "error", err, "table_id", header.TableID)
		return
	}
	tsHeader := ParseTableSyntaxHeader(section[SectionCommonHeaderSize:])
	if r.haveVersion && r.currentVersion == tsHeader.Version {
		return // duplicate: same version as the last delivered section
	}
	r.haveVersion = true
	r.currentVersion = tsHeader.Version

	r.sink.Section(ctx, header, tsHeader, section)
}
