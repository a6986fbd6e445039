// Package samples bundles example networks for the viewer and the CLI.
package samples

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"

	"github.com/couchcryptid/hydromap/internal/epanet"
	"github.com/couchcryptid/hydromap/internal/network"
)

// ErrNotFound is returned for names that are not bundled.
var ErrNotFound = errors.New("sample network not found")

//go:embed networks/*.inp
var files embed.FS

// Default is the network preselected in the viewer.
const Default = "Net1.inp"

// Names lists the bundled networks, sorted.
func Names() []string {
	entries, _ := fs.ReadDir(files, "networks")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// Open returns the raw contents of a bundled network.
func Open(name string) (io.ReadCloser, error) {
	if name != path.Base(name) {
		return nil, fmt.Errorf("sample %q: %w", name, ErrNotFound)
	}
	f, err := files.Open(path.Join("networks", name))
	if err != nil {
		return nil, fmt.Errorf("sample %q: %w", name, ErrNotFound)
	}
	return f, nil
}

// Load parses a bundled network.
func Load(name string) (*network.Network, error) {
	f, err := Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return epanet.Parse(f)
}
