package counter

import (
	"io"
	"io/fs"
	"os"
)

// lener is implemented by in-memory readers that know how many unread
// bytes remain, e.g. bytes.Reader and strings.Reader.
type lener interface {
	Len() int
}

// statSeeker is implemented by *os.File.
type statSeeker interface {
	Stat() (fs.FileInfo, error)
	io.Seeker
}

// streamLength returns the number of bytes left in r when r can report it
// without being read. Only regular files whose size is positive and not a
// multiple of the page size qualify: procfs reports zero and sysfs reports
// one page regardless of content. The read position is queried, not
// changed.
func streamLength(r io.Reader) (uint64, bool) {
	switch v := r.(type) {
	case lener:
		n := v.Len()
		if n < 0 {
			return 0, false
		}

		return uint64(n), true
	case statSeeker:
		info, err := v.Stat()
		if err != nil || !reliableSize(info) {
			return 0, false
		}

		offset, err := v.Seek(0, io.SeekCurrent)
		if err != nil || offset < 0 {
			return 0, false
		}

		if offset >= info.Size() {
			return 0, true
		}

		return uint64(info.Size() - offset), true
	default:
		return 0, false
	}
}

// reliableSize reports whether info.Size() can stand in for reading the
// file.
func reliableSize(info fs.FileInfo) bool {
	size := info.Size()
	if !info.Mode().IsRegular() || size <= 0 {
		return false
	}

	return size%int64(os.Getpagesize()) != 0
}
