//go:build !unix

package back

func mapCode(size int) ([]byte, error) {
	return make([]byte, max(size, WordSize)), nil
}

func sealCode(b []byte) error { return nil }

func unmapCode(b []byte) error { return nil }
