package optimizer

import "errors"

var (
	// ErrExperimentNotFound indicates the referenced experiment ID is unknown
	// to this optimizer instance.
	ErrExperimentNotFound = errors.New("experiment not found")

	// ErrInvalidExperimentState indicates the requested operation is not
	// permitted in the experiment's current lifecycle status.
	ErrInvalidExperimentState = errors.New("invalid experiment state")

	// ErrUnknownMetric indicates a metric name ComputeMetric does not serve.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrCycleThrottled indicates a safety cycle was requested before the
	// minimum interval since the previous cycle elapsed.
	ErrCycleThrottled = errors.New("safety cycle throttled")

	// ErrCycleInFlight indicates a safety cycle is already running; cycles
	// are single-flight and never overlap.
	ErrCycleInFlight = errors.New("safety cycle already in flight")
)
