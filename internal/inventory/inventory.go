// Package inventory loads the list of devices the hub provisions when they are
// absent from the snapshot.
package inventory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalid indicates the inventory file is structurally or semantically wrong.
	ErrInvalid = errors.New("inventory: invalid")
)

// Entry pairs a radio MAC with its cloud identity.
type Entry struct {
	MAC  string `yaml:"mac"`
	GUID string `yaml:"guid"`
}

type file struct {
	Switches []Entry `yaml:"switches"`
}

// Load reads the inventory at path. An empty path or a missing file yields an
// empty inventory.
func Load(path string) ([]Entry, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates an inventory document.
func Parse(data []byte) ([]Entry, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	macs := make(map[string]struct{}, len(f.Switches))
	guids := make(map[string]struct{}, len(f.Switches))
	entries := make([]Entry, 0, len(f.Switches))

	for i, e := range f.Switches {
		e.MAC = strings.TrimSpace(e.MAC)
		e.GUID = strings.TrimSpace(e.GUID)

		if e.MAC == "" || e.GUID == "" {
			return nil, fmt.Errorf("%w: entry %d needs both mac and guid", ErrInvalid, i)
		}
		if _, dup := macs[e.MAC]; dup {
			return nil, fmt.Errorf("%w: duplicate mac %s", ErrInvalid, e.MAC)
		}
		if _, dup := guids[e.GUID]; dup {
			return nil, fmt.Errorf("%w: duplicate guid %s", ErrInvalid, e.GUID)
		}

		macs[e.MAC] = struct{}{}
		guids[e.GUID] = struct{}{}
		entries = append(entries, e)
	}

	return entries, nil
}
