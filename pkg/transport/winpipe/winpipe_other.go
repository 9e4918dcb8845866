//go:build !windows

// Package winpipe implements a local transport over Windows named pipes.
// On other platforms New reports ErrUnsupported.
package winpipe

import (
	"errors"

	"homerun/pkg/transport"
)

var ErrUnsupported = errors.New("winpipe: named pipes require windows")

// Transport is unavailable on this platform.
type Transport struct{ transport.Transport }

func New() (*Transport, error) { return nil, ErrUnsupported }
