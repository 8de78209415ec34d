//go:build linux

package web

import (
	"net"
	"sort"

	"golang.org/x/sys/unix"
)

func snapshotDisk(path string) *DiskSnapshot {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return &DiskSnapshot{Path: path, LastError: err.Error()}
	}
	bsize := uint64(st.Bsize)
	return &DiskSnapshot{
		Path:       path,
		TotalBytes: st.Blocks * bsize,
		FreeBytes:  st.Bfree * bsize,
		AvailBytes: st.Bavail * bsize,
	}
}

// localInterfaceAddrs lists non-loopback IPv4 addresses, the ones a phone
// on the same network can reach the UI on.
func localInterfaceAddrs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, iface.Name+": "+ipnet.String())
		}
	}
	sort.Strings(out)
	return out
}
