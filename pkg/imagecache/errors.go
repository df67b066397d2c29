package imagecache

import "errors"

var (
	// ErrInvalidCrop is returned when the crop box falls outside the
	// source image bounds or has non-positive extent.
	ErrInvalidCrop = errors.New("crop area out of bounds")

	// ErrUnsupportedImage is returned when the source bytes cannot be
	// decoded as a supported image format.
	ErrUnsupportedImage = errors.New("unsupported image")

	// ErrLockBusy is returned in strict dedup mode when the processing
	// lock could not be acquired within the polling budget.
	ErrLockBusy = errors.New("processing lock busy")

	// ErrStoreUnavailable is returned when a backing store cannot be
	// reached for an operation that must not be silently degraded,
	// such as lock acquisition.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrProcessingFailed is returned when the transform, upload or
	// durable write fails during the pipeline.
	ErrProcessingFailed = errors.New("image processing failed")
)
