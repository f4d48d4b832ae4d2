package risk

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLevel indicates a value outside High/Medium/Low.
	ErrInvalidLevel = errors.New("invalid risk level")

	// ErrSegmentation indicates a block produced no usable deficiency text.
	ErrSegmentation = errors.New("segmentation failed")

	// ErrClassification indicates the generator could not produce a valid verdict.
	ErrClassification = errors.New("classification failed")

	// ErrConfiguration indicates a requested capability cannot be provided,
	// e.g. retrieval examples requested with no index available.
	ErrConfiguration = errors.New("configuration error")
)

// ClassificationError is a per-record classification failure.
// errors.Is(err, ErrClassification) is true for every ClassificationError.
type ClassificationError struct {
	Position int
	Reason   string
	Err      error
}

func (e *ClassificationError) Error() string {
	msg := fmt.Sprintf("record %d: %s: %s", e.Position, ErrClassification, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrClassification.
func (e *ClassificationError) Is(target error) bool {
	return target == ErrClassification
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// SegmentationError describes a dropped block.
type SegmentationError struct {
	Block int
	Err   error
}

func (e *SegmentationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("block %d: %s", e.Block, ErrSegmentation)
	}
	return fmt.Sprintf("block %d: %s: %s", e.Block, ErrSegmentation, e.Err)
}

// Is matches ErrSegmentation.
func (e *SegmentationError) Is(target error) bool {
	return target == ErrSegmentation
}

func (e *SegmentationError) Unwrap() error {
	return e.Err
}
