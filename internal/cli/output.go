package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes. Checks that fail (invalid definitions, drifted
// logs, failed scenarios) exit with ExitFailure; problems running the
// command at all (bad paths, unreadable databases) exit with
// ExitCommandError.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// CLI-level error codes. Definition problems found by the compiler carry
// their own E2xx codes; these cover everything in front of it.
const (
	ErrCodeGeneric = "E001" // unclassified error
	ErrCodeLoad    = "E002" // definition directory unreadable or empty
	ErrCodeCompile = "E100" // definition field has the wrong shape
)

// ExitError carries the process exit code a failed command should
// terminate with. main unwraps it via GetExitCode.
type ExitError struct {
	Code    int
	Message string
	Err     error // underlying cause, optional
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError returns an ExitError with no underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code and context to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code buried in err, or ExitFailure when
// err carries none.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders command results as human-readable text or as
// a JSON envelope, depending on the --format flag.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; falls back to Writer when nil
	Verbose   bool
}

// CLIResponse is the JSON envelope every command emits in json mode.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
}

// CLIError describes the failure inside an error-status CLIResponse.
type CLIError struct {
	Code    string      `json:"code"` // "E001", "E213", "E_DRIFT", ...
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Success renders data. In json mode the payload lands under "data"
// with status "ok"; in text mode it is printed as-is.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: data}
		return json.NewEncoder(f.Writer).Encode(resp)
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error renders a failure. In text mode the details print only under
// --verbose.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		resp := CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		}
		return json.NewEncoder(f.Writer).Encode(resp)
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog prints a diagnostic line when --verbose is set. It writes
// to ErrWriter so json output on Writer stays machine-parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the diagnostics writer: ErrWriter, or Writer
// when unset.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
