package collector

import (
	"fmt"
	"sort"
	"strings"
)

// CapacityError is returned by New when the replica count cannot be
// represented by the collector's attendance bookkeeping.
type CapacityError struct {
	Replicas int
	Max      int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("replica count %d out of range [1, %d]", e.Replicas, e.Max)
}

// MalformedReportError is returned by AddResults when a report fails
// validation. The report is rejected before any state is touched.
type MalformedReportError struct {
	Reason string
}

func (e *MalformedReportError) Error() string {
	return fmt.Sprintf("malformed replica report: %s", e.Reason)
}

// IncompleteError is returned by Finalize when a complete result set
// was demanded but at least one key is missing data from at least one
// replica. Missing maps replica name to the number of keys that
// replica never reported.
type IncompleteError struct {
	Missing map[string]int
}

func (e *IncompleteError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for name, n := range e.Missing {
		if n > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s missing %d keys", name, e.Missing[name]))
	}
	return "incomplete results: " + strings.Join(parts, ", ")
}
