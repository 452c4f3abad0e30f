package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorForbidden is returned when a project-scoped record does not belong to
// the claimed project. Checked before any mutation.
var ErrorForbidden = errors.New("forbidden")

var ErrorValidation = errors.New("validation error")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
