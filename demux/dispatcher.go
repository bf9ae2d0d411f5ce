package demux

import (
	"log/slog"

	"github.com/mux2ts/tsdemux/packet"
)

// Demultiplexer is the main dispatch loop: it routes each packet in a
// pushed buffer to the PacketFilter installed for that packet's PID,
// installing a fresh one (via the context's StreamConstructor) the first
// time a PID is seen, and applies any changeset the handler enqueued
// before dispatching the next packet.
//
// A Demultiplexer is single-threaded and cooperative: Push does not
// return until the supplied buffer is drained or a framing error is
// detected, and it must not be called concurrently from multiple
// goroutines against the same instance.
type Demultiplexer struct {
	filters *Filters
	log     *slog.Logger
}

// Option configures a Demultiplexer.
type Option func(*Demultiplexer)

// WithLogger sets the Demultiplexer's logger. Push itself emits no log
// records; diagnostics come from the installed filters.
func WithLogger(log *slog.Logger) Option {
	return func(d *Demultiplexer) { d.log = log }
}

// New creates an empty filter table and immediately installs a handler
// for PID 0 by calling ctx.Constructor().Construct(RequestByPid(0)). The
// application's constructor is expected to return a PAT parser for PID 0.
func New(ctx DemuxContext, opts ...Option) *Demultiplexer {
	d := &Demultiplexer{filters: NewFilters(), log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.filters.Insert(0, ctx.Constructor().Construct(RequestByPid(0)))
	return d
}

// Push processes as many whole packet.Size-byte packets as buf contains.
// A non-sync byte at a packet boundary aborts the remainder of this call
// silently; resynchronization is the caller's responsibility. Any trailing
// bytes shorter than one full packet are left unprocessed.
func (d *Demultiplexer) Push(ctx DemuxContext, buf []byte) {
	i := 0
	for i+packet.Size <= len(buf) {
		if !packet.IsSyncByte(buf[i]) {
			return
		}

		pid := packet.PID(buf[i : i+packet.Size])
		if !d.filters.Contains(pid) {
			d.filters.Insert(pid, ctx.Constructor().Construct(RequestByPid(pid)))
		}
		handler := d.filters.Get(pid)

		// Same-PID run-length batching: keep dispatching straight to this
		// handler, without repeating the PID lookup, for as long as the
		// next packet shares its PID and no changeset edit is pending. A
		// pending edit must be applied before any further packet is
		// dispatched, to anyone's handler, so it ends the batch even when
		// the next packet's PID matches.
		for {
			handler.Consume(ctx, packet.New(buf[i:i+packet.Size]))
			i += packet.Size

			if !ctx.Changeset().IsEmpty() {
				break
			}
			if i+packet.Size > len(buf) {
				break
			}
			if !packet.IsSyncByte(buf[i]) {
				return
			}
			if packet.PID(buf[i:i+packet.Size]) != pid {
				break
			}
		}

		if !ctx.Changeset().IsEmpty() {
			ctx.Changeset().Apply(d.filters)
		}
	}
}
