//go:build !linux
// +build !linux

package fsvol

// statReadOnly has no portable implementation; the mount options decide.
func statReadOnly(path string) bool {
	return false
}
