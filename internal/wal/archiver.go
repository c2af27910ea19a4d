package wal

import (
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Archiver writes a zstd-compressed copy (path + ".zst") of each
// segment the WAL rotates out, in the background, never on the append
// hot path (SPEC_FULL.md §4.6, "Archival"). The original segment stays
// in place, since replay reads only uncompressed wal_N files.
type Archiver struct {
	paths chan string
	log   *zap.Logger
	done  chan struct{}
}

// NewArchiver starts the background worker. Call Close to drain and
// stop it.
func NewArchiver(log *zap.Logger) *Archiver {
	a := &Archiver{
		paths: make(chan string, 64),
		log:   log,
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Enqueue schedules path for compression. Never blocks the caller for
// long; the queue is generously buffered relative to rotation rate.
func (a *Archiver) Enqueue(path string) {
	select {
	case a.paths <- path:
	default:
		a.log.Warn("archiver queue full, dropping segment", zap.String("path", path))
	}
}

func (a *Archiver) run() {
	defer close(a.done)
	for path := range a.paths {
		if err := a.compress(path); err != nil {
			a.log.Error("archive failed", zap.String("path", path), zap.Error(err))
		}
	}
}

func (a *Archiver) compress(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + ".zst")
	if err != nil {
		return err
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return err
	}

	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Close stops accepting new segments and waits for the queue to drain.
func (a *Archiver) Close() {
	close(a.paths)
	<-a.done
}
