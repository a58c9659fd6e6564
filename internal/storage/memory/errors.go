package memory

import (
	"errors"

	"gmflicense/internal/license"
)

var errClosed = errors.New("memory store is closed")

var _ license.Store = (*Store)(nil)
