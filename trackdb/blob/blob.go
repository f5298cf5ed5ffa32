// Package blob stores the raw uploaded track files.
package blob

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rotblauer/trackd/conceptual"
)

var ErrNotFound = errors.New("raw file not found")

// Store keeps raw uploads by key until the owning track file is deleted.
type Store interface {
	Put(ctx context.Context, key string, b []byte) error
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// NewKey returns a fresh, unique key for an upload to trip.
func NewKey(trip conceptual.TripID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" || len(ext) > 8 {
		ext = ".gpx"
	}
	return path.Join("trips", url.PathEscape(trip.String()), uuid.NewString()+ext)
}
