package config

import (
	"fmt"
)

// NotConfiguredError is returned when a key is looked up that is not part
// of the configuration schema, i.e. it does not appear in the defaults
// section of the lowest-priority layer.
type NotConfiguredError struct {
	Entity string
	Key    string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("%s does not configure %q", e.Entity, e.Key)
}

// Error represents a mistake in the user's configuration files, as opposed
// to a key that is merely unknown. It is fatal for the affected lookup and
// retrying cannot succeed.
type Error struct {
	msg string
}

func (e *Error) Error() string {
	return e.msg
}

func errorf(format string, args ...interface{}) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}
