package demux

import (
	"fmt"
	"log/slog"

	"github.com/mux2ts/tsdemux/descriptor"
	"github.com/mux2ts/tsdemux/packet"
)

// TableIDPMT is the table_id value a Program Map Table section must
// carry.
const TableIDPMT = 0x02

// pmtHeaderSize is the length, in bytes, of the fixed fields at the start
// of a PMTSection's body (pcr_pid, program_info_length) before any
// program-level descriptors.
const pmtHeaderSize = 4

// streamInfoHeaderSize is the length of a StreamInfo's fixed fields
// (stream_type, elementary_pid, es_info_length) before its descriptors.
const streamInfoHeaderSize = 5

// PMTSection is the body of a PMT section: the table syntax header and
// CRC already stripped.
type PMTSection struct {
	data []byte
}

// PCRPID returns the PID carrying this program's PCR.
func (s PMTSection) PCRPID() uint16 {
	return uint16(s.data[0]&0x1F)<<8 | uint16(s.data[1])
}

// ProgramInfoLength returns the byte length of the program-level
// descriptor loop.
func (s PMTSection) ProgramInfoLength() uint16 {
	return uint16(s.data[2]&0x0F)<<8 | uint16(s.data[3])
}

// ProgramDescriptors returns an iterator over the program-level
// descriptors. An error is returned, rather than a panic, if
// program_info_length runs past the end of the section — this mirrors
// Streams's fatal-section-error handling for the same condition.
func (s PMTSection) ProgramDescriptors() (*descriptor.Iterator, error) {
	end := pmtHeaderSize + int(s.ProgramInfoLength())
	if end > len(s.data) {
		return nil, fmt.Errorf("demux: PMT program_info_length %d extends beyond section", s.ProgramInfoLength())
	}
	return descriptor.NewIterator(s.data[pmtHeaderSize:end]), nil
}

// Streams returns an iterator over the section's elementary stream
// entries. An error is returned if program_info_length runs past the end
// of the section: that is a fatal, section-wide error (the original
// program_info_length can't be trusted, so neither can anything parsed
// after it), and the caller should discard the whole section rather than
// iterate it.
func (s PMTSection) Streams() (*StreamInfoIter, error) {
	end := pmtHeaderSize + int(s.ProgramInfoLength())
	if end > len(s.data) {
		return nil, fmt.Errorf("demux: PMT program_info_length %d extends beyond section", s.ProgramInfoLength())
	}
	return &StreamInfoIter{buf: s.data[end:]}, nil
}

// StreamInfo describes one elementary stream entry within a PMT section.
type StreamInfo struct {
	data []byte
}

// StreamType returns the stream's stream_type value.
func (s StreamInfo) StreamType() uint8 { return s.data[0] }

// ElementaryPID returns the stream's elementary_PID.
func (s StreamInfo) ElementaryPID() uint16 {
	return uint16(s.data[1]&0x1F)<<8 | uint16(s.data[2])
}

// ESInfoLength returns the byte length of the stream's descriptor loop.
func (s StreamInfo) ESInfoLength() uint16 {
	return uint16(s.data[3]&0x0F)<<8 | uint16(s.data[4])
}

// Descriptors returns an iterator over the stream's es_info descriptors.
func (s StreamInfo) Descriptors() *descriptor.Iterator {
	end := streamInfoHeaderSize + int(s.ESInfoLength())
	if end > len(s.data) {
		end = len(s.data)
	}
	return descriptor.NewIterator(s.data[streamInfoHeaderSize:end])
}

// StreamInfoIter walks a PMT section's StreamInfo entries.
type StreamInfoIter struct {
	buf []byte
}

// Next returns the next StreamInfo. ok is false once the body is
// exhausted, a StreamInfo header shorter than streamInfoHeaderSize bytes
// remains (truncated iteration, logged by the caller), or an
// es_info_length would run past the remaining body (likewise truncated).
func (it *StreamInfoIter) Next() (StreamInfo, bool) {
	if len(it.buf) < streamInfoHeaderSize {
		return StreamInfo{}, false
	}
	si := StreamInfo{data: it.buf}
	end := streamInfoHeaderSize + int(si.ESInfoLength())
	if end > len(it.buf) {
		return StreamInfo{}, false
	}
	it.buf = it.buf[end:]
	return si, true
}

// pmtProcessor parses PMT sections for one (pid, program_number) and
// diffs the announced elementary-stream PIDs against the set it
// previously registered.
type pmtProcessor struct {
	log            *slog.Logger
	pid            uint16
	programNumber  uint16
	haveVersion    bool
	currentVersion uint8
	registered     pidBitset
}

// PMTOption configures a PMTFilter.
type PMTOption func(*pmtProcessor)

// PMTWithLogger sets the logger used for diagnostic messages.
func PMTWithLogger(log *slog.Logger) PMTOption {
	return func(p *pmtProcessor) { p.log = log }
}

func newPMTProcessor(pid, programNumber uint16, opts ...PMTOption) *pmtProcessor {
	p := &pmtProcessor{log: slog.Default(), pid: pid, programNumber: programNumber}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Section implements SectionSink.
func (p *pmtProcessor) Section(ctx DemuxContext, header SectionCommonHeader, ts TableSyntaxHeader, data []byte) {
	if header.TableID != TableIDPMT {
		p.log.Warn("demux: expected PMT table_id 0x02", "pid", p.pid, "program_number", p.programNumber, "table_id", header.TableID)
		return
	}

	start := SectionCommonHeaderSize + TableSyntaxHeaderSize
	end := len(data) - 4 // strip CRC
	if end < start {
		p.log.Warn("demux: PMT section too short for its header", "pid", p.pid)
		return
	}
	sect := PMTSection{data: data[start:end]}

	streams, err := sect.Streams()
	if err != nil {
		p.log.Warn("demux: discarding malformed PMT section", "pid", p.pid, "error", err)
		return
	}

	seen := make(map[uint16]struct{})
	for {
		si, ok := streams.Next()
		if !ok {
			break
		}
		filter := ctx.Constructor().Construct(RequestByStream(si.StreamType(), &sect, &si))
		ctx.Changeset().Insert(si.ElementaryPID(), filter)
		seen[si.ElementaryPID()] = struct{}{}
		p.registered.set(si.ElementaryPID())
	}
	if len(streams.buf) > 0 {
		p.log.Warn("demux: PMT stream list truncated", "pid", p.pid, "remaining", len(streams.buf))
	}

	for pid := uint16(0); pid < MaxPID; pid++ {
		if !p.registered.get(pid) {
			continue
		}
		if _, ok := seen[pid]; ok {
			continue
		}
		ctx.Changeset().Remove(pid)
		p.registered.clear(pid)
	}

	p.haveVersion = true
	p.currentVersion = ts.Version
}

// PMTFilter is the PacketFilter installed for a PID the PAT announced as
// carrying a PMT. It reassembles PSI sections on that PID and feeds
// complete ones to an internal PMT table processor scoped to
// (pid, programNumber).
type PMTFilter struct {
	reassembler *SectionReassembler
}

// NewPMTFilter returns a PMTFilter for the PMT carried on pid, announcing
// programNumber.
func NewPMTFilter(pid, programNumber uint16, opts ...PMTOption) *PMTFilter {
	return &PMTFilter{reassembler: NewSectionReassembler(newPMTProcessor(pid, programNumber, opts...))}
}

// Consume implements PacketFilter.
func (f *PMTFilter) Consume(ctx DemuxContext, pk packet.Packet) {
	f.reassembler.Consume(ctx, pk)
}
