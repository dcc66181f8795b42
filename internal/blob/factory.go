package blob

import (
	"context"
	"fmt"
	"os"
)

// Options selects and configures a backend. Zero value opens the current
// directory as a filesystem bank.
type Options struct {
	Driver Driver
	Root   string // fs driver root (e.g. /imagenet/train/)
	S3     S3Config
}

// Open returns the Store described by opts. Unlike NewFilesystem it never
// creates the fs root: an image bank that is not there is an error.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		root := opts.Root
		if root == "" {
			root = "."
		}
		st, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("open image bank: %w", err)
		}
		if !st.IsDir() {
			return nil, fmt.Errorf("open image bank: %s is not a directory", root)
		}
		return NewFilesystem(root)
	case DriverS3:
		return NewS3(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
