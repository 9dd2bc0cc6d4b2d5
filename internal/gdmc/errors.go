package gdmc

import (
	"errors"
	"fmt"
)

var (
	ErrInterfaceConnection = errors.New("could not connect to the GDMC HTTP interface")
	ErrBuildAreaNotSet     = errors.New("build area is not set")
)

// StatusError is a non-2xx answer from the interface.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status=%d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.Path, e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
