package util

// Classify returns an error which reports itself as kind to errors.Is while
// keeping err reachable through Unwrap. It returns nil if err is nil.
//
// The packages in this module use it to sort low level I/O failures into the
// small set of categories their callers switch on.
func Classify(kind, err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: kind, err: err}
}

type classified struct {
	kind error
	err  error
}

func (c *classified) Error() string {
	return c.kind.Error() + ": " + c.err.Error()
}

func (c *classified) Unwrap() error { return c.err }

func (c *classified) Is(target error) bool { return target == c.kind }
