package config

import "errors"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")
