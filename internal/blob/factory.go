package blob

import (
	"context"
	"fmt"
	"os"
)

// OpenFunc constructs a Store for one driver. The indirection exists so the
// factory stays free of driver imports; drivers register themselves at init
// through their package being imported (see the drivers preamble in
// cmd/roundctl).
type OpenFunc func(ctx context.Context) (Store, error)

var drivers = map[Driver]OpenFunc{}

// RegisterDriver installs a driver constructor. Later registrations replace
// earlier ones, which tests use to inject fakes.
func RegisterDriver(driver Driver, open OpenFunc) {
	drivers[driver] = open
}

// Open selects an archive Store implementation using environment variables.
//
//	ROUNDCORE_ARCHIVE_DRIVER: fs|s3|memory (default fs)
//	ROUNDCORE_ARCHIVE_FS_ROOT: directory root when driver=fs (default ./archives)
//	(S3 specific variables documented in the s3 driver package)
func Open(ctx context.Context) (Store, error) {
	driver := Driver(os.Getenv("ROUNDCORE_ARCHIVE_DRIVER"))
	if driver == "" {
		driver = DriverFilesystem
	}
	open, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("unknown archive driver %s", driver)
	}
	return open(ctx)
}

// Sink adapts a Store to the write-only surface the archive action needs.
type Sink struct {
	store Store
}

// NewSink wraps a store for archive export writes.
func NewSink(store Store) *Sink {
	return &Sink{store: store}
}

// Put stores one archive export document.
func (s *Sink) Put(ctx context.Context, key string, payload []byte) error {
	_, err := s.store.Put(ctx, key, payload, PutOptions{ContentType: "application/json"})
	return err
}
