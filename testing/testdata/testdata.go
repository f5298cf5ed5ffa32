package testdata

import (
	"os"
	"path/filepath"
	"runtime"
)

// basepath is the root directory of this package.
var basepath string

func init() {
	_, currentFile, _, _ := runtime.Caller(0)
	basepath = filepath.Dir(currentFile)
}

// Path returns the absolute path the given relative file or directory path,
// relative to this testdata/ directory in the user's GOPATH.
// If rel is already absolute, it is returned unmodified.
// Taken from https://github.com/grpc/grpc-go/blob/master/testdata/testdata.go.
func Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}

	return filepath.Join(basepath, rel)
}

// Source_RidgeWalk is a short hand-edited walk with elevation and times,
// split across two track segments.
var Source_RidgeWalk = "./gpx/ridge_walk.gpx"

// Source_PlannedRoute has only a <rte>, no <trk>.
var Source_PlannedRoute = "./gpx/planned_route.gpx"

// MustRead reads a fixture by its relative path, panicking on error.
func MustRead(rel string) []byte {
	b, err := os.ReadFile(Path(rel))
	if err != nil {
		panic(err)
	}
	return b
}
