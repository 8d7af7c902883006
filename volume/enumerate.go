package volume

// ForEachReadOnly calls visit for every read-only volume in m, in list order.
//
// Each volume is pinned with Busy for as long as it is being looked at, so it
// cannot be unmounted while visit runs. The list lock is never held while
// visit runs, and the volume lock is only held to test the read-only flag.
// The pin is dropped under the list lock right before the next pointer is
// read, since the volume may go away as soon as it is unpinned.
//
// Iteration stops the first time visit returns false or an error, and that
// result is returned. A false result without an error is a request to stop,
// not a failure.
func ForEachReadOnly(m Manager, visit func(Volume) (bool, error)) (bool, error) {
	ok := true
	var err error

	m.LockList()
	v := m.First()
	for v != nil {
		m.Busy(v) // releases the list lock

		v.Lock()
		ro := v.ReadOnly()
		v.Unlock()

		if ro {
			ok, err = visit(v)
		}

		m.LockList()
		m.Unbusy(v)
		if !ok || err != nil {
			break
		}
		v = m.Next(v)
	}
	m.UnlockList()

	return ok, err
}
