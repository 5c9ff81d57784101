package transcript

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Tailer reads a growing file incrementally: each ReadNew call returns only
// the complete lines appended since the previous call. The trailing
// fragment of a partially written line is buffered and prefixed to the next
// read, so emitted records never split mid-line. Emission therefore lags
// real time until a terminator byte lands.
type Tailer struct {
	path    string
	offset  int64
	partial []byte
}

// NewTailer creates a tailer positioned at the start of path. The file does
// not need to exist yet.
func NewTailer(path string) *Tailer {
	return &Tailer{path: path}
}

// Path returns the tailed file path.
func (t *Tailer) Path() string {
	return t.path
}

// Reset repositions the tailer at the start of the file and drops any
// buffered fragment. Used when the file is recreated for a new run.
func (t *Tailer) Reset() {
	t.offset = 0
	t.partial = nil
}

// ReadNew returns the complete lines appended since the last call. A file
// smaller than the last observed size means it was recreated; the tailer
// resets and reads from the beginning.
func (t *Tailer) ReadNew() ([][]byte, error) {
	file, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat transcript: %w", err)
	}

	size := info.Size()
	if size < t.offset {
		// Recreated by a new agent run.
		t.Reset()
	}
	if size == t.offset {
		return nil, nil
	}

	if _, err := file.Seek(t.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek transcript: %w", err)
	}

	appended := make([]byte, size-t.offset)
	if _, err := io.ReadFull(file, appended); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	t.offset = size

	data := append(t.partial, appended...)
	t.partial = nil

	var lines [][]byte
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(data[:i], "\r")
		if len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
		data = data[i+1:]
	}
	if len(data) > 0 {
		t.partial = append([]byte(nil), data...)
	}

	return lines, nil
}
