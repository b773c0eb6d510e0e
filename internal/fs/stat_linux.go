//go:build linux

package fs

import (
	"io/fs"
	"syscall"
	"time"
)

// changeTime extracts the inode change time, which also moves on writes
// that restore the modification time.
func changeTime(info fs.FileInfo) (time.Time, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec), true
}
