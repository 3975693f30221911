package generation

import "fmt"

// NotFoundError reports that Entity ("trip" or "itineraries") could not be
// loaded after every attempt. Err is the last gateway error, if any.
type NotFoundError struct {
	Entity   string
	TripID   string
	Attempts int
	Err      error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s for trip %s not found after %d attempts: %v", e.Entity, e.TripID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s for trip %s not found after %d attempts", e.Entity, e.TripID, e.Attempts)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Detail is the underlying cause without the retry framing.
func (e *NotFoundError) Detail() string {
	if e.Err == nil {
		return "no rows returned"
	}
	return e.Err.Error()
}

// DefaultUpstreamDetail is used when the service gives no detail.
const DefaultUpstreamDetail = "Failed to generate itinerary with AI"

// UpstreamError is a non-success response from the generation service.
type UpstreamError struct {
	Status int
	Detail string
}

func (e *UpstreamError) Error() string {
	if e.Detail == "" {
		return DefaultUpstreamDetail
	}
	return e.Detail
}

// UnknownError wraps any other failure; its message is forwarded verbatim.
type UnknownError struct {
	Err error
}

func (e *UnknownError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	return e.Err.Error()
}

func (e *UnknownError) Unwrap() error { return e.Err }
