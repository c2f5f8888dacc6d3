package archive

import "errors"

var (
	ErrInvalidConfig      = errors.New("archive: bucket and region are required")
	ErrFailedToLoadConfig = errors.New("archive: failed to load AWS config")
	ErrBucketNotFound     = errors.New("archive: bucket not found")
	ErrAccessDenied       = errors.New("archive: access denied")
	ErrUnavailable        = errors.New("archive: storage temporarily unavailable")
	ErrUploadFailed       = errors.New("archive: upload failed")
)
