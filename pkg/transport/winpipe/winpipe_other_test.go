//go:build !windows

package winpipe

import (
	"errors"
	"testing"
)

func TestUnsupportedOffWindows(t *testing.T) {
	if _, err := New(); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("New() err = %v", err)
	}
}
