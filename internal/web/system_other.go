//go:build !linux

package web

func snapshotDisk(path string) *DiskSnapshot {
	return &DiskSnapshot{Path: path, LastError: "not supported on this platform"}
}

func localInterfaceAddrs() []string { return nil }
