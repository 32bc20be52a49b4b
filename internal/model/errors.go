package model

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks fatal errors detected before any grading happens.
var ErrConfiguration = errors.New("configuration error")

var (
	ErrMissingCredential = fmt.Errorf("%w: missing API credential", ErrConfiguration)
	ErrDocumentCount     = fmt.Errorf("%w: exactly 2 documents are required", ErrConfiguration)
	ErrDocumentNaming    = fmt.Errorf("%w: document names must contain \"answer\" and \"student\"", ErrConfiguration)
)
