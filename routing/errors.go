package routing

// RoutingError reports that no viable path exists for a context. It is
// recoverable by the caller, typically by falling back to a default agent.
type RoutingError struct {
	Reason string
	Trace  []string
}

// Error implements error.
func (e *RoutingError) Error() string {
	return "no viable route: " + e.Reason
}

// NewRoutingError builds a RoutingError from a no-route decision.
func NewRoutingError(d Decision) *RoutingError {
	return &RoutingError{Reason: d.Reason, Trace: d.Trace}
}
