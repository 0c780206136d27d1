//go:build !windows

package scan

import (
	"os"
	"syscall"
)

// applyPlatformStat fills in the inode and link count fields available via
// the platform-specific stat structure.
func applyPlatformStat(entry *Entry, info os.FileInfo) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	entry.Inode = uint64(stat.Ino)
	entry.LinkCount = uint32(stat.Nlink)
}
