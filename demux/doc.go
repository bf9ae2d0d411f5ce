// Package demux implements the core of an MPEG-2 Transport Stream
// demultiplexer: a PID-indexed routing table consulted per packet, a PSI
// section reassembler, PAT/PMT table processors that diff announced PIDs
// against previously announced ones, and the changeset protocol that lets
// a handler request routing changes without mutating the table it is
// itself dispatched from.
//
// Applications plug in by implementing StreamConstructor, which the
// dispatcher calls to obtain a PacketFilter whenever it needs a handler
// for a PID it hasn't seen, or that a PAT/PMT just announced.
package demux
