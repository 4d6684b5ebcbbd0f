//go:build linux

package source

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential tells the kernel the file will be read once from start
// to end so it can read ahead aggressively. Failures are ignored.
func adviseSequential(f *os.File) {
	sc, err := f.SyscallConn()
	if err != nil {
		return
	}

	_ = sc.Control(func(fd uintptr) {
		_ = unix.Fadvise(int(fd), 0, 0, unix.FADV_SEQUENTIAL)
	})
}
