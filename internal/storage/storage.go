// Package storage publishes operation outputs. It defines the Storage
// interface and implementations that leave results on local disk or upload
// them to S3.
package storage

import (
	"context"
	"errors"
)

// ErrOutputNotFound is returned when the output to publish does not exist.
var ErrOutputNotFound = errors.New("output not found")

// Storage publishes operation results.
type Storage interface {
	// Publish makes the file or directory at localPath available under
	// prefix and returns its location. A directory is published with all
	// files below it and its location is the directory prefix.
	Publish(ctx context.Context, prefix, localPath string) (location string, err error)

	// Remote reports whether Publish copies results off the local disk.
	Remote() bool
}
