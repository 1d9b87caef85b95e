package graph

import "fmt"

// ValidationError reports a single structural defect found by Validate.
// Validate collects every missing-node and bad-reference defect rather than
// stopping at the first. The reachability check runs only when there are
// none of those, and the cycle check only when no earlier check failed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ValidationErrors aggregates every ValidationError found for a single
// graph.
type ValidationErrors struct {
	GraphID string
	Errors  []*ValidationError
}

func (e *ValidationErrors) Error() string {
	return fmt.Sprintf("graph %s: %d validation error(s), first: %s", e.GraphID, len(e.Errors), e.Errors[0].Reason)
}

func (e *ValidationErrors) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, ve := range e.Errors {
		out[i] = ve
	}
	return out
}
