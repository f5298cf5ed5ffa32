package params

import (
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
)

const (
	AppName   = "trackd"
	EnvPrefix = "TRACKD"

	TrackDBFileName = "trackd.sqlite"
	QueueDBFileName = "jobs.db"
	RawFilesDir     = "raw"
)

var (
	// CacheTripExistsTTL is how long a trip directory answer is trusted.
	CacheTripExistsTTL = 5 * time.Minute

	// CachePointsSize is the number of simplified point sets kept in memory.
	CachePointsSize = 1_000
)

var DefaultDatadirRoot = func() string {
	d, err := homedir.Expand("~/." + AppName)
	if err != nil {
		return filepath.Join(os.TempDir(), AppName)
	}
	return d
}()
