package backend

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const ggufMagic = "GGUF"

// ValidateGGUF checks that path is a readable GGUF file and returns its format version
func ValidateGGUF(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()

	var header [8]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return 0, fmt.Errorf("%w: short header: %v", ErrMalformedModel, err)
	}
	if string(header[:4]) != ggufMagic {
		return 0, fmt.Errorf("%w: bad magic %q", ErrMalformedModel, header[:4])
	}

	version := binary.LittleEndian.Uint32(header[4:])
	if version == 0 {
		return 0, fmt.Errorf("%w: version 0", ErrMalformedModel)
	}
	return version, nil
}

// FindModelFile resolves the model to load. A forced name must exist inside
// dir. Otherwise dir is searched for *.gguf files, then recursively, and a
// Phi-2 model is preferred over the first file found.
func FindModelFile(dir, forced string) (string, error) {
	if forced != "" {
		p := filepath.Join(dir, forced)
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("forced model file not found: %s", p)
		}
		return filepath.Abs(p)
	}

	ggufs, err := filepath.Glob(filepath.Join(dir, "*.gguf"))
	if err != nil {
		return "", fmt.Errorf("failed to search %s: %w", dir, err)
	}
	if len(ggufs) == 0 {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".gguf") {
				ggufs = append(ggufs, path)
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to search %s: %w", dir, err)
		}
	}
	if len(ggufs) == 0 {
		return "", fmt.Errorf("no .gguf found in %s", dir)
	}
	sort.Strings(ggufs)

	for _, f := range ggufs {
		name := strings.ToLower(filepath.Base(f))
		if strings.Contains(name, "phi-2") || strings.Contains(name, "phi2") {
			return filepath.Abs(f)
		}
	}
	return filepath.Abs(ggufs[0])
}
