package ring

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/klauspost/compress/zstd"
)

// ReadOrdered returns the contents of the ring file at path from the oldest
// retained line to the newest. After a wraparound the line at the cursor
// is dropped as possibly partial. Without a metadata sidecar the file is
// treated as never wrapped.
func ReadOrdered(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ring file: %w", err)
	}

	meta, err := ReadMetadata(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return trimPadding(data), nil
	case err != nil:
		return nil, err
	}

	cursor := meta.Cursor
	if cursor < 0 || cursor > int64(len(data)) {
		return nil, fmt.Errorf("ring cursor %d outside file of %d bytes", cursor, len(data))
	}

	if meta.Wraps == 0 {
		return trimPadding(data[:cursor]), nil
	}

	ordered := make([]byte, 0, len(data))
	ordered = append(ordered, data[cursor:]...)
	ordered = append(ordered, data[:cursor]...)

	// The first line may have been partly overwritten by the newest one.
	// Only a single lap ending exactly at the file end is known to start
	// on a line boundary.
	if meta.Wraps > 1 || cursor > 0 {
		if i := bytes.IndexByte(ordered, '\n'); i >= 0 {
			ordered = ordered[i+1:]
		}
	}

	return trimPadding(ordered), nil
}

// Export writes the ordered ring contents to w, zstd-compressed if asked
func Export(w io.Writer, path string, compress bool) error {
	data, err := ReadOrdered(path)
	if err != nil {
		return err
	}

	if !compress {
		_, err := w.Write(data)
		return err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return fmt.Errorf("failed to compress snapshot: %w", err)
	}
	return enc.Close()
}

// trimPadding drops the zero bytes of never-written regions
func trimPadding(b []byte) []byte {
	b = bytes.TrimRight(b, "\x00")
	return bytes.TrimLeft(b, "\x00")
}
