package ordersync

import "errors"

var (
	// ErrTokenUnavailable is returned when no bearer token could be obtained for the cycle
	ErrTokenUnavailable = errors.New("ordersync: token unavailable")

	// ErrSourceUnavailable is returned when the ERP rows could not be read
	ErrSourceUnavailable = errors.New("ordersync: order source unavailable")

	// ErrRecordPanicked is recorded when processing a single row panicked
	ErrRecordPanicked = errors.New("ordersync: record processing panicked")

	// ErrCyclePanicked is returned when the cycle panicked outside of a single row
	ErrCyclePanicked = errors.New("ordersync: cycle panicked")
)
