//go:build windows

package scan

import "os"

// applyPlatformStat is a no-op on Windows: inode and link count are not
// exposed through os.FileInfo.Sys() in a portable way, and the protocol
// treats both fields as optional.
func applyPlatformStat(entry *Entry, info os.FileInfo) {}
