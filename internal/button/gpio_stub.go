//go:build !linux || (!arm && !arm64)

package button

import (
	"errors"
	"io"
	"time"
)

func openLine(int, time.Duration, func(time.Time)) (io.Closer, error) {
	return nil, errors.New("button: gpio unsupported on this platform")
}
