package parser

import (
	"errors"
	"fmt"
)

// ErrorKind classifies parse failures.
type ErrorKind int

const (
	// UnrecognizedFormat means the page layout matched no known version. It is
	// fatal to the page.
	UnrecognizedFormat ErrorKind = iota + 1
	// MalformedField means a single row could not be read. It is fatal to the
	// row only.
	MalformedField
)

func (k ErrorKind) String() string {
	switch k {
	case UnrecognizedFormat:
		return "unrecognized_format"
	case MalformedField:
		return "malformed_field"
	default:
		return "unknown"
	}
}

// ParseError reports a page or row that could not be parsed.
type ParseError struct {
	Kind     ErrorKind
	Page     int
	Position int // 0 for page-level errors
	Field    Field
	Err      error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse page %d: %s", e.Page, e.Kind)
	if e.Position > 0 {
		msg += fmt.Sprintf(" at row %d", e.Position)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" (%s)", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsUnrecognized reports whether err is a page-level UnrecognizedFormat error.
func IsUnrecognized(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Kind == UnrecognizedFormat
}

// IsMalformed reports whether err is a row-level MalformedField error.
func IsMalformed(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Kind == MalformedField
}
