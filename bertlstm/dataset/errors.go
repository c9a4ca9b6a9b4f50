package dataset

import "github.com/pkg/errors"

// ErrDataAccess covers every failure to read a sample from a split.
var ErrDataAccess = errors.New("data access error")
