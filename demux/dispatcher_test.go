package demux

import (
	"testing"

	"github.com/mux2ts/tsdemux/packet"
)

func TestDemultiplexer_New_InstallsPID0Handler(t *testing.T) {
	ctx, constructor := newTestContext()
	d := New(ctx)

	if !d.filters.Contains(0) {
		t.Fatal("PID 0 has no handler installed after New")
	}
	if len(constructor.requests) != 1 || constructor.requests[0].Kind != ByPid || constructor.requests[0].PID != 0 {
		t.Fatalf("unexpected construction requests during New: %+v", constructor.requests)
	}
}

func TestDemultiplexer_Push_EmptyBuffer(t *testing.T) {
	ctx, _ := newTestContext()
	d := New(ctx)
	d.Push(ctx, nil) // must not panic
}

func TestDemultiplexer_Push_SinglePATAnnouncesOneProgram(t *testing.T) {
	ctx, constructor := newTestContext()
	d := New(ctx)

	section := buildPATSection(1, 0, []PATProgram{{ProgramNumber: 1, PMTPID: 101}})
	d.Push(ctx, packetizeSection(0, section))

	if !d.filters.Contains(0) || !d.filters.Contains(101) {
		t.Fatalf("filter table PIDs = %v, want {0, 101}", d.filters.PIDs())
	}

	var sawPMTRequest bool
	for _, req := range constructor.requests {
		if req.Kind == ByPMT && req.PID == 101 && req.ProgramNumber == 1 {
			sawPMTRequest = true
		}
	}
	if !sawPMTRequest {
		t.Fatal("no ByPMT{pid:101, program_number:1} request observed")
	}
}

func TestDemultiplexer_Push_PATVersionBumpRemovesProgram(t *testing.T) {
	ctx, _ := newTestContext()
	d := New(ctx)

	first := buildPATSection(1, 0, []PATProgram{{ProgramNumber: 1, PMTPID: 101}})
	d.Push(ctx, packetizeSection(0, first))
	if !d.filters.Contains(101) {
		t.Fatal("setup: PID 101 not installed after the first PAT")
	}

	second := buildPATSection(1, 1, nil) // same transport stream, no programs now
	d.Push(ctx, packetizeSection(0, second))

	if d.filters.Contains(101) {
		t.Fatal("PID 101 still installed after a PAT version bump dropped it")
	}
	if !d.filters.Contains(0) {
		t.Fatal("PID 0 lost its handler")
	}
}

func TestDemultiplexer_Push_DuplicatePATSuppressed(t *testing.T) {
	ctx, _ := newTestContext()
	d := New(ctx)

	section := buildPATSection(1, 0, []PATProgram{{ProgramNumber: 1, PMTPID: 101}})
	buf := packetizeSection(0, section)

	d.Push(ctx, buf)
	pat := d.filters.Get(0).(*PATFilter)
	processor := pat.reassembler.sink.(*patProcessor)
	versionAfterFirst := processor.currentVersion
	pmtAfterFirst := d.filters.Get(101)

	d.Push(ctx, buf) // identical section again

	if processor.currentVersion != versionAfterFirst {
		t.Fatal("version changed after a duplicate section")
	}
	// A duplicate section produces no new changeset edits; applying twice
	// should leave the same PIDs installed, not remove and reinstall them.
	if !d.filters.Contains(101) {
		t.Fatal("PID 101 missing after replaying an identical PAT")
	}
	if d.filters.Get(101) != pmtAfterFirst {
		t.Fatal("PID 101 handler was replaced after replaying an identical PAT")
	}
}

func TestDemultiplexer_Push_UnknownPIDAutodiscovered(t *testing.T) {
	ctx, constructor := newTestContext()
	d := New(ctx)

	pkt := make([]byte, packet.Size)
	pkt[0] = packet.SyncByte
	pkt[1] = 0x01 // PID 0x100, no PUSI
	pkt[2] = 0x00
	pkt[3] = 0x10 // payload-only, cc=0

	d.Push(ctx, pkt)

	if !d.filters.Contains(0x100) {
		t.Fatal("unknown PID 0x100 was not autodiscovered")
	}
	var saw bool
	for _, req := range constructor.requests {
		if req.Kind == ByPid && req.PID == 0x100 {
			saw = true
		}
	}
	if !saw {
		t.Fatal("no ByPid{pid:0x100} request observed for the unknown PID")
	}
}

func TestDemultiplexer_Push_SamePIDBatchingConsumesAllPackets(t *testing.T) {
	ctx, _ := newTestContext()
	d := New(ctx)

	const pid = 0x150
	d.filters.Insert(pid, &recordingFilter{})

	var buf []byte
	for cc := 0; cc < 5; cc++ {
		pkt := make([]byte, packet.Size)
		pkt[0] = packet.SyncByte
		pkt[1] = byte(pid >> 8)
		pkt[2] = byte(pid & 0xFF)
		pkt[3] = 0x10 | byte(cc&0x0F)
		buf = append(buf, pkt...)
	}

	d.Push(ctx, buf)

	f := d.filters.Get(pid).(*recordingFilter)
	if f.count != 5 {
		t.Fatalf("recordingFilter consumed %d packets, want 5", f.count)
	}
}

func TestDemultiplexer_Push_NonSyncByteAbortsRemainder(t *testing.T) {
	ctx, _ := newTestContext()
	d := New(ctx)

	good := make([]byte, packet.Size)
	good[0] = packet.SyncByte
	good[3] = 0x10

	bad := make([]byte, packet.Size)
	bad[0] = 0x00 // not the sync byte

	buf := append(append([]byte{}, good...), bad...)
	d.Push(ctx, buf) // must return without panicking, leaving bad unprocessed
}

func TestDemultiplexer_Push_TrailingPartialPacketIgnored(t *testing.T) {
	ctx, _ := newTestContext()
	d := New(ctx)

	good := make([]byte, packet.Size)
	good[0] = packet.SyncByte
	good[3] = 0x10

	buf := append(append([]byte{}, good...), 0x47, 0x00) // 2 trailing bytes, not a full packet
	d.Push(ctx, buf)                                     // must not panic or index out of range
}
