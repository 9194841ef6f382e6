package pipeline

import (
	"fmt"

	"prism/internal/services"
)

// WorkerError records a panic inside a pipeline goroutine. It matches
// services.ErrWorkerFatal with errors.Is, and the panic value too when that
// value is an error.
type WorkerError struct {
	Stage  string
	Worker int
	Panic  any
	Stack  []byte
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("%s worker %d panicked: %v", e.Stage, e.Worker, e.Panic)
}

func (e *WorkerError) Unwrap() []error {
	errs := []error{services.ErrWorkerFatal}
	if err, ok := e.Panic.(error); ok {
		errs = append(errs, err)
	}
	return errs
}
