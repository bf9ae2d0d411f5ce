// Command tsdump demuxes one or more MPEG-2 Transport Stream sources and
// logs the program structure it discovers: announced programs and the
// elementary streams within them. It does not decode or
// write out any payload; it exists to exercise and demonstrate the demux
// package end to end.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	srtgo "github.com/zsiec/srtgo"
	"golang.org/x/sync/errgroup"

	"github.com/mux2ts/tsdemux/demux"
	"github.com/mux2ts/tsdemux/packet"
)

// srtReadBufferSize is sized for a handful of 7-packet (1316-byte) SRT
// payloads per read, rounded down to a whole number of transport packets.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT receive latency, in nanoseconds.
const srtLatencyNs = 120_000_000

func main() {
	var (
		files    fileList
		srtAddrs fileList
		debug    = flag.Bool("debug", os.Getenv("DEBUG") != "", "enable debug logging")
	)
	flag.Var(&files, "file", "path to a Transport Stream file to demux (repeatable)")
	flag.Var(&srtAddrs, "srt", "SRT address to pull from and demux (repeatable)")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if len(files) == 0 && len(srtAddrs) == 0 {
		fmt.Fprintln(os.Stderr, "tsdump: at least one -file or -srt source is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)

	for _, path := range files {
		path := path
		g.Go(func() error {
			return demuxFile(ctx, path, log)
		})
	}
	for _, addr := range srtAddrs {
		addr := addr
		g.Go(func() error {
			return demuxSRT(ctx, addr, log)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("tsdump exiting with error", "error", err)
		os.Exit(1)
	}
}

// fileList accumulates repeated -file/-srt flag values.
type fileList []string

func (f *fileList) String() string { return fmt.Sprint([]string(*f)) }
func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

// demuxFile reads path from disk and pushes it through a fresh
// Demultiplexer, one read-sized chunk at a time.
func demuxFile(ctx context.Context, path string, log *slog.Logger) error {
	log = log.With("file", path)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dctx := demux.NewBaseContext(newConstructor(path, log))
	d := demux.New(dctx, demux.WithLogger(log))

	r := bufio.NewReaderSize(f, packet.Size*512)
	buf := make([]byte, packet.Size*512)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			aligned := n - n%packet.Size
			d.Push(dctx, buf[:aligned])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
}

// demuxSRT dials addr as an SRT caller and pushes everything it reads
// through a fresh Demultiplexer until ctx is cancelled or the connection
// closes.
func demuxSRT(ctx context.Context, addr string, log *slog.Logger) error {
	log = log.With("srt_addr", addr)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- dialResult{conn, err}
	}()

	var conn *srtgo.Conn
	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("SRT dial %s: %w", addr, res.err)
		}
		conn = res.conn
	case <-time.After(10 * time.Second):
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return fmt.Errorf("SRT dial %s timed out", addr)
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return ctx.Err()
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	dctx := demux.NewBaseContext(newConstructor(addr, log))
	d := demux.New(dctx, demux.WithLogger(log))

	buf := make([]byte, srtReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			aligned := n - n%packet.Size
			d.Push(dctx, buf[:aligned])
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("SRT read from %s: %w", addr, err)
		}
	}
}
