package demux

import "github.com/mux2ts/tsdemux/packet"

// PacketFilter is the per-PID handler interface. The dispatcher holds
// exclusive ownership of every installed PacketFilter; a filter must never
// retain a reference to the Filters table that owns it — any routing
// change it wants must go through the Changeset reachable from ctx.
type PacketFilter interface {
	Consume(ctx DemuxContext, pk packet.Packet)
}

// FilterRequestKind tags the variant of a FilterRequest.
type FilterRequestKind int

const (
	// ByPid is sent when the dispatcher first sees a PID in the wild,
	// including PID 0 at construction time.
	ByPid FilterRequestKind = iota
	// ByPMT is sent by the PAT processor for each PMT PID it announces.
	ByPMT
	// ByStream is sent by the PMT processor for each elementary stream
	// PID it announces.
	ByStream
)

// FilterRequest is the argument to StreamConstructor.Construct. Exactly
// the fields relevant to Kind are populated.
type FilterRequest struct {
	Kind FilterRequestKind

	// Populated for ByPid and ByPMT.
	PID uint16

	// Populated for ByPMT.
	ProgramNumber uint16

	// Populated for ByStream.
	StreamType uint8
	PMT        *PMTSection
	StreamInfo *StreamInfo
}

// RequestByPid builds a ByPid FilterRequest.
func RequestByPid(pid uint16) FilterRequest {
	return FilterRequest{Kind: ByPid, PID: pid}
}

// RequestPMT builds a ByPMT FilterRequest: the PAT announced pid as the
// PMT carrier for programNumber.
func RequestPMT(pid, programNumber uint16) FilterRequest {
	return FilterRequest{Kind: ByPMT, PID: pid, ProgramNumber: programNumber}
}

// RequestByStream builds a ByStream FilterRequest: the PMT announced an
// elementary stream of streamType, described by si within pmt.
func RequestByStream(streamType uint8, pmt *PMTSection, si *StreamInfo) FilterRequest {
	return FilterRequest{Kind: ByStream, StreamType: streamType, PMT: pmt, StreamInfo: si}
}

// StreamConstructor is the single application-supplied factory the core
// relies on to obtain handlers. It must not call back into Demultiplexer.Push
// or touch a Filters table directly — it only ever returns a fresh
// PacketFilter value.
type StreamConstructor interface {
	Construct(req FilterRequest) PacketFilter
}

// DemuxContext is threaded by mutable reference through every dispatch. It
// carries the changeset a handler may enqueue routing edits onto, and the
// constructor used to build new handlers.
type DemuxContext interface {
	Changeset() *Changeset
	Constructor() StreamConstructor
}

// BaseContext is a ready-to-embed implementation of DemuxContext. Most
// applications can use it directly instead of hand-writing the
// changeset/constructor plumbing themselves.
type BaseContext struct {
	changeset   Changeset
	constructor StreamConstructor
}

// NewBaseContext returns a BaseContext wrapping the given constructor.
func NewBaseContext(constructor StreamConstructor) *BaseContext {
	return &BaseContext{constructor: constructor}
}

func (c *BaseContext) Changeset() *Changeset           { return &c.changeset }
func (c *BaseContext) Constructor() StreamConstructor { return c.constructor }
