package demux

import (
	"github.com/mux2ts/tsdemux/packet"
)

// buildSection assembles a complete long-form PSI section: common header,
// table syntax header, body, and a correctly computed trailing CRC-32.
func buildSection(tableID uint8, id uint16, version uint8, body []byte) []byte {
	sectionLength := TableSyntaxHeaderSize + len(body) + 4

	buf := make([]byte, 0, SectionCommonHeaderSize+sectionLength)
	buf = append(buf, tableID)
	buf = append(buf, 0xB0|byte((sectionLength>>8)&0x0F), byte(sectionLength))
	buf = append(buf, byte(id>>8), byte(id))
	buf = append(buf, 0xC0|(version<<1)|0x01) // reserved=11, version, current_next=1
	buf = append(buf, 0x00, 0x00)              // section_number, last_section_number
	buf = append(buf, body...)

	crc := computeCRC32(buf)
	buf = append(buf, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
	return buf
}

// buildPATSection assembles a complete PAT section announcing programs.
func buildPATSection(transportStreamID uint16, version uint8, programs []PATProgram) []byte {
	var body []byte
	for _, p := range programs {
		body = append(body,
			byte(p.ProgramNumber>>8), byte(p.ProgramNumber),
			0xE0|byte(p.PMTPID>>8), byte(p.PMTPID))
	}
	return buildSection(TableIDPAT, transportStreamID, version, body)
}

// pmtStreamSpec describes one elementary stream entry to embed in a built
// PMT section.
type pmtStreamSpec struct {
	StreamType    uint8
	ElementaryPID uint16
	Descriptors   []byte
}

// buildPMTSection assembles a complete PMT section for programNumber.
func buildPMTSection(programNumber uint16, version uint8, pcrPID uint16, programInfo []byte, streams []pmtStreamSpec) []byte {
	var body []byte
	body = append(body, 0xE0|byte(pcrPID>>8), byte(pcrPID))
	body = append(body, 0xF0|byte(len(programInfo)>>8), byte(len(programInfo)))
	body = append(body, programInfo...)
	for _, s := range streams {
		body = append(body, s.StreamType)
		body = append(body, 0xE0|byte(s.ElementaryPID>>8), byte(s.ElementaryPID))
		body = append(body, 0xF0|byte(len(s.Descriptors)>>8), byte(len(s.Descriptors)))
		body = append(body, s.Descriptors...)
	}
	return buildSection(TableIDPMT, programNumber, version, body)
}

// packetizeSection wraps a complete section's bytes into a run of
// packet.Size-byte transport packets on pid, with payload_unit_start_indicator
// and the pointer field set on the first packet, stuffing-byte (0xFF) padding
// on the last, and sequential continuity counters. The result is ready to
// pass directly to Demultiplexer.Push.
func packetizeSection(pid uint16, section []byte) []byte {
	var out []byte
	remaining := section
	cc := uint8(0)
	pusi := true

	for {
		pkt := make([]byte, packet.Size)
		pkt[0] = packet.SyncByte
		pkt[1] = byte(pid>>8) & 0x1F
		if pusi {
			pkt[1] |= 0x40
		}
		pkt[2] = byte(pid)
		pkt[3] = 0x10 | (cc & 0x0F)
		cc++

		payloadStart := 4
		if pusi {
			pkt[4] = 0x00 // pointer_field: next byte starts the section
			payloadStart = 5
		}
		payloadCap := packet.Size - payloadStart
		n := len(remaining)
		if n > payloadCap {
			n = payloadCap
		}
		copy(pkt[payloadStart:], remaining[:n])
		for i := payloadStart + n; i < packet.Size; i++ {
			pkt[i] = 0xFF
		}
		remaining = remaining[n:]
		out = append(out, pkt...)

		if len(remaining) == 0 {
			break
		}
		pusi = false
	}
	return out
}

// recordingFilter counts how many packets it was asked to consume.
type recordingFilter struct {
	count int
}

func (f *recordingFilter) Consume(ctx DemuxContext, pk packet.Packet) { f.count++ }

// testConstructor is a StreamConstructor that records every FilterRequest it
// was asked to satisfy, and builds a real PATFilter/PMTFilter for ByPid(0)
// and ByPMT requests so end-to-end dispatch can be exercised, falling back
// to a recordingFilter for everything else.
type testConstructor struct {
	requests []FilterRequest
}

func (c *testConstructor) Construct(req FilterRequest) PacketFilter {
	c.requests = append(c.requests, req)
	switch req.Kind {
	case ByPid:
		if req.PID == 0 {
			return NewPATFilter()
		}
		return &recordingFilter{}
	case ByPMT:
		return NewPMTFilter(req.PID, req.ProgramNumber)
	case ByStream:
		return &recordingFilter{}
	default:
		return NullFilter{}
	}
}

func newTestContext() (*BaseContext, *testConstructor) {
	c := &testConstructor{}
	return NewBaseContext(c), c
}
