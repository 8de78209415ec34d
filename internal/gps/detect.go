package gps

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.bug.st/serial"
)

// receiverPortHints are substrings of port names that USB GNSS receivers
// commonly enumerate as.
var receiverPortHints = []string{"ttyACM", "ttyUSB", "usbmodem", "usbserial"}

// autoDetectDevice returns the first plausible receiver port, or "".
func autoDetectDevice() string {
	if ports, err := serial.GetPortsList(); err == nil {
		if p := pickReceiverPort(ports); p != "" {
			return p
		}
	}
	for _, prefix := range []string{"/dev/ttyACM", "/dev/ttyUSB"} {
		for i := 0; i < 10; i++ {
			p := fmt.Sprintf("%s%d", prefix, i)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

func pickReceiverPort(ports []string) string {
	var hits []string
	for _, p := range ports {
		for _, h := range receiverPortHints {
			if strings.Contains(p, h) {
				hits = append(hits, p)
				break
			}
		}
	}
	if len(hits) == 0 {
		return ""
	}
	// ACM ports (u-blox CDC) sort ahead of generic USB-serial bridges.
	sort.SliceStable(hits, func(i, j int) bool {
		ai := strings.Contains(hits[i], "ACM") || strings.Contains(hits[i], "usbmodem")
		aj := strings.Contains(hits[j], "ACM") || strings.Contains(hits[j], "usbmodem")
		if ai != aj {
			return ai
		}
		return hits[i] < hits[j]
	})
	return hits[0]
}
