//go:build unix

package back

import "golang.org/x/sys/unix"

func mapCode(size int) ([]byte, error) {
	page := unix.Getpagesize()
	size = max(page, (size+page-1)/page*page)

	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func sealCode(b []byte) error {
	return unix.Mprotect(b, unix.PROT_READ)
}

func unmapCode(b []byte) error {
	return unix.Munmap(b)
}
