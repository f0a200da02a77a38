// Package contract reports precondition failures.  A violated contract is a
// programming error in the caller, so it is never returned as an error: the
// offending goroutine panics with a *Violation.
package contract

import "fmt"

// A Violation describes a precondition that did not hold.
type Violation struct {
	Msg string
}

// Error implements the error interface so recovered values print sensibly.
func (v *Violation) Error() string {
	return "contract violation: " + v.Msg
}

// Fail panics with a Violation built from a format string.
func Fail(format string, args ...interface{}) {
	panic(&Violation{Msg: fmt.Sprintf(format, args...)})
}

// Require panics with a Violation if cond is false.
func Require(cond bool, format string, args ...interface{}) {
	if !cond {
		Fail(format, args...)
	}
}
