// Package exit carries a process outcome (message, destination, code)
// from command logic back to main without calling os.Exit mid-stack.
package exit

import (
	"fmt"
	"io"
	"os"
)

// Result holds the output destination and exit code for program
// termination.
type Result struct {
	Output   io.Writer
	ExitCode int
	Message  string
}

// Print writes the result message to its destination.
func (r *Result) Print() {
	fmt.Fprint(r.Output, r.Message)
}

// Success writes to stdout with exit code 0.
func Success(message string) *Result {
	return &Result{
		Output:   os.Stdout,
		ExitCode: 0,
		Message:  message,
	}
}

// Successf is Success with a formatted message.
func Successf(format string, a ...any) *Result {
	return Success(fmt.Sprintf(format, a...))
}

// Error writes to stderr with exit code 1.
func Error(message string) *Result {
	return &Result{
		Output:   os.Stderr,
		ExitCode: 1,
		Message:  message,
	}
}

// Errorf is Error with a formatted message.
func Errorf(format string, a ...any) *Result {
	return Error(fmt.Sprintf(format, a...))
}
