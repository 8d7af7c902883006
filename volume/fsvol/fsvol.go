// Package fsvol implements volume.Manager on top of afero filesystems.
//
// Each Volume serves one afero.Fs as a mounted filesystem. The host's real
// mount table can be loaded with HostMounts, and tests build volumes over
// afero.NewMemMapFs. The Manager keeps the busy-reference bookkeeping a
// kernel would: Unmount refuses to remove a pinned volume.
package fsvol

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/ndlib/obfw/volume"
)

// Spec describes a volume to mount.
type Spec struct {
	FSType     string
	Device     string
	Mountpoint string
	ReadOnly   bool
	FS         afero.Fs
}

// Manager is a volume.Manager holding a linked list of mounted volumes.
type Manager struct {
	list  sync.Mutex // the list lock; guards first, last and every next
	first *Volume
	last  *Volume
	log   *logrus.Entry
}

var (
	_ volume.Manager = &Manager{}
	_ volume.Volume  = &Volume{}

	// ErrBusy is returned by Unmount for a pinned volume.
	ErrBusy = errors.New("volume is busy")

	// ErrNotMounted is returned by Unmount for a volume not in the list.
	ErrNotMounted = errors.New("volume is not mounted")
)

// New returns a Manager with the given volumes mounted in order.
func New(specs ...Spec) *Manager {
	m := &Manager{log: logrus.WithField("module", "fsvol")}
	for _, s := range specs {
		m.Mount(s)
	}
	return m
}

// Mount appends a volume to the list.
func (m *Manager) Mount(s Spec) *Volume {
	v := &Volume{spec: s}
	m.list.Lock()
	if m.last == nil {
		m.first = v
	} else {
		m.last.next = v
	}
	m.last = v
	m.list.Unlock()
	m.log.WithFields(logrus.Fields{"fs": s.FSType, "dev": s.Device, "ro": s.ReadOnly}).Debugln("mounted", s.Mountpoint)
	return v
}

// Unmount removes v from the list. It fails with ErrBusy while v is pinned.
func (m *Manager) Unmount(v *Volume) error {
	m.list.Lock()
	defer m.list.Unlock()
	if v.busy > 0 {
		return ErrBusy
	}
	var prev *Volume
	for x := m.first; x != nil; prev, x = x, x.next {
		if x != v {
			continue
		}
		if prev == nil {
			m.first = v.next
		} else {
			prev.next = v.next
		}
		if m.last == v {
			m.last = prev
		}
		v.next = nil
		return nil
	}
	return ErrNotMounted
}

// Volumes returns a snapshot of the mounted volumes.
func (m *Manager) Volumes() []*Volume {
	m.list.Lock()
	defer m.list.Unlock()
	var out []*Volume
	for v := m.first; v != nil; v = v.next {
		out = append(out, v)
	}
	return out
}

func (m *Manager) LockList()   { m.list.Lock() }
func (m *Manager) UnlockList() { m.list.Unlock() }

func (m *Manager) First() volume.Volume {
	if m.first == nil {
		return nil
	}
	return m.first
}

func (m *Manager) Next(v volume.Volume) volume.Volume {
	next := v.(*Volume).next
	if next == nil {
		return nil
	}
	return next
}

// Busy pins v and releases the list lock.
func (m *Manager) Busy(v volume.Volume) {
	v.(*Volume).busy++
	m.list.Unlock()
}

func (m *Manager) Unbusy(v volume.Volume) {
	v.(*Volume).busy--
}

// Volume is one mounted afero filesystem.
type Volume struct {
	mu   sync.Mutex
	spec Spec
	busy int     // pins; guarded by the Manager list lock
	next *Volume // guarded by the Manager list lock
	open int64   // outstanding node references, guarded by mu
}

func (v *Volume) Lock()   { v.mu.Lock() }
func (v *Volume) Unlock() { v.mu.Unlock() }

// ReadOnly must be called with the volume lock held.
func (v *Volume) ReadOnly() bool { return v.spec.ReadOnly }

func (v *Volume) FSType() string     { return v.spec.FSType }
func (v *Volume) Device() string     { return v.spec.Device }
func (v *Volume) Mountpoint() string { return v.spec.Mountpoint }

// SetReadOnly changes the mount flag, like a remount would.
func (v *Volume) SetReadOnly(ro bool) {
	v.mu.Lock()
	v.spec.ReadOnly = ro
	v.mu.Unlock()
}

// Open returns the number of node references not yet released.
func (v *Volume) Open() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.open
}

// Root returns a referenced node for the root of the volume.
func (v *Volume) Root() (volume.Node, error) {
	n, err := v.lookup("/")
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (v *Volume) ref(delta int64) {
	v.mu.Lock()
	v.open += delta
	v.mu.Unlock()
}
