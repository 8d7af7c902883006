package fsvol

import (
	"golang.org/x/sys/unix"
)

// statReadOnly asks the kernel whether the filesystem at path is mounted
// read-only. Errors count as writable.
func statReadOnly(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	return st.Flags&unix.ST_RDONLY != 0
}
