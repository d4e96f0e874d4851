package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/deskwire/internal/protocol"
	"github.com/danmuck/deskwire/internal/protocol/wire"
	"github.com/danmuck/deskwire/internal/record"
)

func main() {
	dbPath := flag.String("db", "bridge.db", "recording store path")
	list := flag.Bool("list", false, "list recorded sessions")
	sessionID := flag.Int64("session", 0, "session id to replay")
	speed := flag.Float64("speed", 1.0, "replay speed multiplier")
	maxGap := flag.Duration("max-gap", 2*time.Second, "cap on idle gaps between frames")
	input := flag.Bool("input", false, "include the client's input frames")
	out := flag.String("out", "", "write raw frames to a file instead of printing summaries")
	flag.Parse()

	store, err := record.Open(*dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if *list {
		if err := listSessions(store); err != nil {
			log.Fatal(err)
		}
		return
	}

	if *sessionID == 0 {
		log.Fatal("replayctl: -list or -session required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := record.ReplayOptions{Speed: *speed, MaxGap: *maxGap, IncludeInput: *input}
	if *out != "" {
		if err := dumpSession(ctx, store, *sessionID, *out, opts); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal(err)
		}
		return
	}
	if err := printSession(ctx, store, *sessionID, opts); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func listSessions(store *record.Store) error {
	sessions, err := store.Sessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no recorded sessions")
		return nil
	}
	for _, meta := range sessions {
		started := time.Unix(meta.StartedAt, 0).Format(time.RFC3339)
		length := "unfinished"
		if meta.EndedAt != 0 {
			length = (time.Duration(meta.EndedAt-meta.StartedAt) * time.Second).String()
		}
		fmt.Printf("%4d  %-16s  %-12s  %4dx%-4d  %6d frames  %s  %s\n",
			meta.ID, meta.Name, meta.Username, meta.Width, meta.Height, meta.Frames, started, length)
	}
	return nil
}

// printSession decodes the replay stream and prints one line per frame.
func printSession(ctx context.Context, store *record.Store, id int64, opts record.ReplayOptions) error {
	pr, pw := io.Pipe()

	replayErr := make(chan error, 1)
	go func() {
		err := store.Replay(ctx, id, pw, opts)
		pw.CloseWithError(err)
		replayErr <- err
	}()

	start := time.Now()
	limits := wire.DefaultLimits()
	cr := &countingReader{r: pr}
	for {
		before := cr.n
		m, err := protocol.DecodeMessage(cr, limits)
		if err == io.EOF {
			break
		}
		if err != nil {
			pr.CloseWithError(err)
			<-replayErr
			return err
		}
		fmt.Printf("[%8.3fs] %-20s %6dB\n",
			time.Since(start).Seconds(), protocol.TypeOf(m), cr.n-before)
	}
	return <-replayErr
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// dumpSession writes the raw frame stream to a file, ready to feed a
// decoder or another tool.
func dumpSession(ctx context.Context, store *record.Store, id int64, path string, opts record.ReplayOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := store.Replay(ctx, id, f, opts); err != nil {
		return err
	}
	log.Printf("wrote session %d to %s", id, path)
	return nil
}
