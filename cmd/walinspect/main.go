// Command walinspect takes a single positional path (a wal_* segment
// file, or a directory of them) and prints each decoded command, per
// spec.md §6's "companion WAL-inspection tool". Given a segment file,
// it prints every wal_* segment in that file's directory, not only the
// named file.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/bscheinman/cixrs/internal/engine"
	"github.com/bscheinman/cixrs/internal/wal"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: walinspect <wal-segment-or-directory>")
		os.Exit(2)
	}

	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
	}

	log := zap.NewNop()
	reader := wal.NewDirectoryReader(dir, log)

	return reader.Replay(func(cmd engine.Command) error {
		printCommand(cmd)
		return nil
	})
}

func printCommand(cmd engine.Command) {
	switch c := cmd.(type) {
	case engine.NewOrderCommand:
		fmt.Printf("NewOrder id=%s user=%s symbol=%s side=%s price=%g qty=%d update=%s\n",
			c.OrderID, c.User, c.Symbol, c.Side, c.Price, c.Quantity, c.UpdateTime)
	case engine.CancelOrderCommand:
		fmt.Printf("CancelOrder id=%s user=%s\n", c.OrderID, c.User)
	default:
		fmt.Printf("%T %+v\n", cmd, cmd)
	}
}
