// Package snapshot persists the executor name to registration mapping
// between runs. The snapshot is a flat JSON document with stable
// encoding, so an unchanged run leaves an unchanged file.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Entry is the last-known registration for one executor.
type Entry struct {
	ID    int    `json:"id"`
	Token string `json:"token"`
}

// Load reads a snapshot file. A missing file is not an error: it yields
// an empty snapshot and the run falls back to querying the coordinator.
func Load(path string) (map[string]Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	if entries == nil {
		entries = map[string]Entry{}
	}
	return entries, nil
}

// Encode renders a snapshot as byte-stable JSON: sorted keys, four
// space indent.
func Encode(entries map[string]Entry) ([]byte, error) {
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// Equal reports whether two snapshots hold identical registrations.
// Callers skip the write when nothing changed.
func Equal(a, b map[string]Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for name, entry := range a {
		if other, ok := b[name]; !ok || other != entry {
			return false
		}
	}
	return true
}

// Write replaces the snapshot file atomically. The file holds runner
// tokens, so it is created owner-readable only.
func Write(path string, entries map[string]Entry) error {
	data, err := Encode(entries)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set snapshot permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot %s: %w", path, err)
	}
	return nil
}
