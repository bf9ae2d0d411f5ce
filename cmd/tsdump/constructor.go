package main

import (
	"log/slog"
	"sync"

	"github.com/mux2ts/tsdemux/demux"
	"github.com/mux2ts/tsdemux/packet"
)

// constructor is the StreamConstructor this command hands to every
// demux.Demultiplexer it creates. It installs a PAT parser at PID 0, a PMT
// parser for every PID the PAT announces, and for each elementary stream
// the PMT in turn announces a filter that logs the stream once its first
// packet arrives, falling back to demux.NewUnhandledPidFilter for any PID
// nobody announced.
type constructor struct {
	log    *slog.Logger
	source string

	mu      sync.Mutex
	streams map[uint16]streamInfo
}

type streamInfo struct {
	programNumber uint16
	streamType    uint8
}

func newConstructor(source string, log *slog.Logger) *constructor {
	return &constructor{
		log:     log.With("source", source),
		source:  source,
		streams: make(map[uint16]streamInfo),
	}
}

func (c *constructor) Construct(req demux.FilterRequest) demux.PacketFilter {
	switch req.Kind {
	case demux.ByPid:
		if req.PID == 0 {
			return demux.NewPATFilter(demux.PATWithLogger(c.log))
		}
		return demux.NewUnhandledPidFilter(c.log)

	case demux.ByPMT:
		c.log.Info("program announced", "program_number", req.ProgramNumber, "pmt_pid", req.PID)
		return demux.NewPMTFilter(req.PID, req.ProgramNumber, demux.PMTWithLogger(c.log))

	case demux.ByStream:
		c.mu.Lock()
		c.streams[req.StreamInfo.ElementaryPID()] = streamInfo{streamType: req.StreamType}
		c.mu.Unlock()
		return &elementaryStreamLogger{log: c.log, pid: req.StreamInfo.ElementaryPID(), streamType: req.StreamType}

	default:
		return demux.NullFilter{}
	}
}

// elementaryStreamLogger logs the first packet it sees on a PID the PMT
// described, then drops every subsequent one: this command dumps structure,
// not payloads.
type elementaryStreamLogger struct {
	log        *slog.Logger
	pid        uint16
	streamType uint8
	once       sync.Once
}

func (f *elementaryStreamLogger) Consume(ctx demux.DemuxContext, pk packet.Packet) {
	f.once.Do(func() {
		f.log.Info("elementary stream traffic", "pid", f.pid, "stream_type", f.streamType)
	})
}
