package goscript

import "errors"

var (
	// ErrParse is returned when a class file is not valid Go.
	ErrParse = errors.New("go source does not parse")

	// ErrEval is returned when the interpreter rejects a class file.
	ErrEval = errors.New("go source evaluation failed")
)
