package tsnsched

import (
	"errors"
	"strings"

	"github.com/iti/tsnsched/solver"
)

var (
	// ErrConfiguration flags malformed bounds or inputs; the object being built is discarded
	ErrConfiguration = errors.New("tsnsched: configuration error")

	// ErrInvalidState flags an operation invoked out of lifecycle order
	ErrInvalidState = errors.New("tsnsched: invalid state")

	// ErrNotFound flags a lookup of a priority that was never recorded
	ErrNotFound = errors.New("tsnsched: not found")

	// ErrOutOfRange flags a priority or slot index outside its domain
	ErrOutOfRange = errors.New("tsnsched: out of range")

	// ErrUnsatisfiable is the solving session's verdict that no schedule exists.
	// It is passed through unchanged (wrapped) so callers can relax bounds and retry.
	ErrUnsatisfiable = solver.ErrUnsatisfiable
)

// errList is a comma-separated report of several errors, each still reachable by errors.Is
type errList []error

func (el errList) Error() string {
	errMsg := make([]string, 0, len(el))
	for _, err := range el {
		errMsg = append(errMsg, err.Error())
	}
	return strings.Join(errMsg, ",")
}

func (el errList) Unwrap() []error {
	return el
}

// ReportErrs gathers the non-nil errors of a list into a single error
// with comma-separated report of all the constituent errors, and returns it.
// nil is returned when there are none.
func ReportErrs(errs []error) error {
	el := make(errList, 0)
	for _, err := range errs {
		if err != nil {
			el = append(el, err)
		}
	}
	if len(el) == 0 {
		return nil
	}
	return el
}
