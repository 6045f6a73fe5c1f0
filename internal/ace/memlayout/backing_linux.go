//go:build linux

package memlayout

import "golang.org/x/sys/unix"

// newBackingStore allocates size bytes of anonymous memory to model a
// physical memory window. On Linux this is a real mmap mapping so that
// the writes in ClearConfidentialMemory behave like the
// volatile-store loop in the original implementation.
func newBackingStore(size int) ([]byte, func() error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return mem, func() error { return unix.Munmap(mem) }, nil
}
