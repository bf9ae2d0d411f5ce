package demux

import (
	"log/slog"

	"github.com/mux2ts/tsdemux/packet"
)

// TableIDPAT is the table_id value a Program Association Table section
// must carry.
const TableIDPAT = 0x00

// PATProgram is one (program_number, PMT PID) pair from a PAT section.
type PATProgram struct {
	ProgramNumber uint16
	PMTPID        uint16
}

// PATSection is the body of a PAT section: the table syntax header and
// CRC already stripped, leaving only the repeating 4-byte program
// records.
type PATSection struct {
	data []byte
}

// Programs returns an iterator over the section's program records.
func (s PATSection) Programs() *PATProgramIter {
	return &PATProgramIter{buf: s.data}
}

// PATProgramIter walks the 4-byte program records of a PATSection.
type PATProgramIter struct {
	buf []byte
}

// Next returns the next program record, or ok=false once fewer than 4
// bytes remain.
func (it *PATProgramIter) Next() (PATProgram, bool) {
	if len(it.buf) < 4 {
		return PATProgram{}, false
	}
	head := it.buf[:4]
	it.buf = it.buf[4:]
	return PATProgram{
		ProgramNumber: uint16(head[0])<<8 | uint16(head[1]),
		PMTPID:        uint16(head[2]&0x1F)<<8 | uint16(head[3]),
	}, true
}

// patProcessor parses PAT sections and diffs the announced PMT PIDs
// against the set it previously registered, enqueueing Insert/Remove
// changeset edits for the difference.
type patProcessor struct {
	log            *slog.Logger
	haveVersion    bool
	currentVersion uint8
	registered     pidBitset
}

// PATOption configures a PATFilter.
type PATOption func(*patProcessor)

// PATWithLogger sets the logger used for diagnostic messages.
func PATWithLogger(log *slog.Logger) PATOption {
	return func(p *patProcessor) { p.log = log }
}

func newPATProcessor(opts ...PATOption) *patProcessor {
	p := &patProcessor{log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Section implements SectionSink. It is the PAT table processor: for a
// table announcing PID set S', the previously-registered set S becomes
// S' — every PID in S' is (re-)inserted, and every PID in S \ S' is
// removed.
func (p *patProcessor) Section(ctx DemuxContext, header SectionCommonHeader, ts TableSyntaxHeader, data []byte) {
	if header.TableID != TableIDPAT {
		p.log.Warn("demux: expected PAT table_id 0x00", "table_id", header.TableID)
		return
	}

	start := SectionCommonHeaderSize + TableSyntaxHeaderSize
	end := len(data) - 4 // strip CRC
	if end < start {
		p.log.Warn("demux: PAT section too short for its header")
		return
	}
	sect := PATSection{data: data[start:end]}

	seen := make(map[uint16]struct{})
	for it := sect.Programs(); ; {
		prog, ok := it.Next()
		if !ok {
			break
		}
		filter := ctx.Constructor().Construct(RequestPMT(prog.PMTPID, prog.ProgramNumber))
		ctx.Changeset().Insert(prog.PMTPID, filter)
		seen[prog.PMTPID] = struct{}{}
		p.registered.set(prog.PMTPID)
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

// PATFilter is the PacketFilter applications install for the PID carrying
// the Program Association Table (ordinarily PID 0). It reassembles PSI
// sections on that PID and feeds complete ones to an internal PAT table
// processor.
type PATFilter struct {
	reassembler *SectionReassembler
}

// NewPATFilter returns a PATFilter.
func NewPATFilter(opts ...PATOption) *PATFilter {
	return &PATFilter{reassembler: NewSectionReassembler(newPATProcessor(opts...))}
}

// Consume implements PacketFilter.
func (f *PATFilter) Consume(ctx DemuxContext, pk packet.Packet) {
	f.reassembler.Consume(ctx, pk)
}
