package backup

import (
	"context"
	"errors"
)

// ErrNoLocalDir is returned when archiving is enabled without a directory.
var ErrNoLocalDir = errors.New("backup: local dir is required when storage is enabled")

// Config controls metric archiving.
type Config struct {
	Enabled       bool
	LocalDir      string
	KeepLast      int
	RetentionDays int
	Compression   bool
	BucketURL     string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3SessionToken string
	S3UseSSL       bool
}

// Uploader ships one archive file to remote storage.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}
