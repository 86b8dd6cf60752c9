package ring

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/maxpert/selfdiag/encoding"
)

const metadataVersion = 1

// Metadata describes a ring file well enough to read it back in order.
// It is stored next to the ring as <file>.meta.
type Metadata struct {
	Version   int    `msgpack:"v"`
	Capacity  int64  `msgpack:"cap"`
	Cursor    int64  `msgpack:"cursor"` // physical offset of the next write
	Wraps     int64  `msgpack:"wraps"`  // completed passes over the file
	Instance  uint64 `msgpack:"instance"`
	UpdatedAt int64  `msgpack:"updated"` // unix ms
}

// MetadataPath returns the sidecar path for a ring file
func MetadataPath(path string) string {
	return path + ".meta"
}

// WriteMetadata atomically replaces the sidecar of the ring at path
func WriteMetadata(path string, meta Metadata) error {
	meta.Version = metadataVersion
	data, err := encoding.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to encode ring metadata: %w", err)
	}

	target := MetadataPath(path)
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("failed to create metadata temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to install metadata: %w", err)
	}
	return nil
}

// ReadMetadata loads the sidecar of the ring at path
func ReadMetadata(path string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(MetadataPath(path))
	if err != nil {
		return meta, err
	}
	if err := encoding.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("corrupted ring metadata %s: %w", MetadataPath(path), err)
	}
	if meta.Version > metadataVersion {
		return meta, fmt.Errorf("unsupported ring metadata version %d", meta.Version)
	}
	return meta, nil
}
