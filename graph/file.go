package graph

import (
	"os"
	"path/filepath"

	"modernc.org/graphstore/extent"
)

// FileOpener returns an Opener backed by one memory-mapped file per name
// under dir. Reopening a Graph against the same dir with the same
// registered types recovers its prior state, since field/type hashes are
// stable across runs.
func FileOpener(dir string) Opener {
	return func(name string) (extent.Extent, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		return extent.NewFileExtent(filepath.Join(dir, name+".ext"))
	}
}
