//go:build linux || darwin || freebsd || netbsd || openbsd

package hostinfo

import "golang.org/x/sys/unix"

func uname() (machine, sysname string) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", ""
	}
	return unix.ByteSliceToString(u.Machine[:]), unix.ByteSliceToString(u.Sysname[:])
}
