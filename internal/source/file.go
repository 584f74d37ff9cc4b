package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"mmledger/internal/event"
)

// maxRecord bounds one JSON-lines record.
const maxRecord = 1 << 20

// ReadFile hands every event in a JSON-lines file to handle, in file order.
func ReadFile(ctx context.Context, path string, handle Handler) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()
	return Read(ctx, f, handle)
}

// Read is ReadFile over an arbitrary reader. Blank lines are skipped.
func Read(ctx context.Context, r io.Reader, handle Handler) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxRecord)

	line, count := 0, 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}

		ev, err := event.Decode(raw)
		if err != nil {
			return count, fmt.Errorf("line %d: %w", line, err)
		}
		if err := handle(ctx, ev); err != nil {
			return count, fmt.Errorf("line %d (%s): %w", line, ev.Key(), err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("read events: %w", err)
	}
	return count, nil
}
