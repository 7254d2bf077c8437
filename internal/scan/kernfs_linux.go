package scan

import "golang.org/x/sys/unix"

// isKernFS reports whether path is the mount point of a Linux pseudo
// filesystem whose sizes mean nothing.
func isKernFS(path string) bool {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return false
	}
	switch int64(fs.Type) {
	case unix.BINFMTFS_MAGIC,
		unix.BPF_FS_MAGIC,
		unix.CGROUP_SUPER_MAGIC,
		unix.CGROUP2_SUPER_MAGIC,
		unix.DEBUGFS_MAGIC,
		unix.DEVPTS_SUPER_MAGIC,
		unix.PROC_SUPER_MAGIC,
		unix.PSTOREFS_MAGIC,
		unix.SECURITYFS_MAGIC,
		unix.SELINUX_MAGIC,
		unix.SYSFS_MAGIC,
		unix.TRACEFS_MAGIC:
		return true
	}
	return false
}
