package blob

import (
	"context"
	"fmt"

	fsstore "freezercore/internal/infra/blob/fs"
	memorystore "freezercore/internal/infra/blob/memory"
	s3store "freezercore/internal/infra/blob/s3"
)

// S3Config re-exports the infra S3 configuration.
type S3Config = s3store.Config

// Config selects and configures a blob driver. It is filled from the
// archive section of the freezerctl configuration.
type Config struct {
	Driver Driver
	// FSRoot is the directory used by the fs driver.
	FSRoot string
	S3     S3Config
}

// Open constructs the store cfg names. An empty driver selects fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewFilesystem returns a Store rooted at root, creating the directory if needed.
func NewFilesystem(root string) (Store, error) { return fsstore.New(root) }

// NewS3 returns an S3 or MinIO backed Store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return s3store.New(ctx, cfg) }

// NewMockS3ForTests exposes the in-process S3 fake for cross-package tests.
func NewMockS3ForTests() Store { return s3store.NewMockForTests() }
