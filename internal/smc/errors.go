package smc

import "errors"

var (
	// ErrInvalidPeriod is returned for a non-positive swing window.
	ErrInvalidPeriod = errors.New("smc: period must be positive")
	// ErrInvalidBlockCount is returned for a non-positive visible block count.
	ErrInvalidBlockCount = errors.New("smc: order block count must be positive")
	// ErrHistoryTooSmall is returned when a bounded history cannot hold the
	// swing window plus its candidate bar.
	ErrHistoryTooSmall = errors.New("smc: history capacity smaller than period+1")
	// ErrNilBar is returned by HandleBar for a nil bar.
	ErrNilBar = errors.New("smc: nil bar")
	// ErrSnapshotMismatch is returned when a snapshot was taken under a
	// config whose window or gauge differs from the target config.
	ErrSnapshotMismatch = errors.New("smc: snapshot incompatible with config")
)
