package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// TailLogs writes the last n lines of the daemon log to out. With
// follow set it then keeps streaming appended data until ctx is
// canceled, polling the file size.
func TailLogs(ctx context.Context, out io.Writer, path string, n int, follow bool) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no log file at %s", path)
		}
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	offset, err := writeLastLines(out, f, n)
	if err != nil {
		return err
	}
	if !follow {
		return nil
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat log file: %w", err)
			}
			size := info.Size()
			if size < offset {
				// Rotated or truncated underneath us.
				offset = 0
			}
			if size == offset {
				continue
			}
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				return fmt.Errorf("seek log file: %w", err)
			}
			written, err := io.Copy(out, f)
			if err != nil {
				return fmt.Errorf("read log file: %w", err)
			}
			offset += written
		}
	}
}

// writeLastLines emits the final n lines of f and returns the offset of
// the end of file for follow mode to resume from.
func writeLastLines(out io.Writer, f *os.File, n int) (int64, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, fmt.Errorf("read log file: %w", err)
	}

	text := string(data)
	trimmed := strings.TrimRight(text, "\n")
	if trimmed != "" {
		lines := strings.Split(trimmed, "\n")
		if n > 0 && len(lines) > n {
			lines = lines[len(lines)-n:]
		}
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
	}
	return int64(len(data)), nil
}
