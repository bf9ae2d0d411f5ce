package demux

import (
	"log/slog"
	"sync"

	"github.com/mux2ts/tsdemux/packet"
)

// NullFilter drops every packet it receives. Register it as the default
// handler for PIDs the application has no interest in.
type NullFilter struct{}

// Consume implements PacketFilter by ignoring pk.
func (NullFilter) Consume(ctx DemuxContext, pk packet.Packet) {}

// UnhandledPidFilter logs the first packet seen for a PID that no table
// announced and the application did not otherwise recognize. It exists so
// a constructor can register it as the "default" handler and get
// diagnostic logging for packets the application never asked about,
// without repeating the log message for every subsequent packet on that
// PID (§7's log-on-first-occurrence policy for noisy conditions).
type UnhandledPidFilter struct {
	log  *slog.Logger
	once sync.Once
}

// NewUnhandledPidFilter returns an UnhandledPidFilter. If log is nil,
// slog.Default() is used.
func NewUnhandledPidFilter(log *slog.Logger) *UnhandledPidFilter {
	if log == nil {
		log = slog.Default()
	}
	return &UnhandledPidFilter{log: log}
}

// Consume implements PacketFilter.
func (f *UnhandledPidFilter) Consume(ctx DemuxContext, pk packet.Packet) {
	f.once.Do(func() {
		f.log.Info("demux: unhandled PID", "pid", pk.PID())
	})
}
