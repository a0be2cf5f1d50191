package kernel

// Error describes a failure detected by a kernel component. It is used
// throughout the codebase instead of the standard error interface because
// the Go allocator is not guaranteed to be available when early boot code
// needs to report a failure.
type Error struct {
	// Module is the name of the component that generated the error.
	Module string

	// Message describes the cause of the error.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Module + ": " + e.Message
}
