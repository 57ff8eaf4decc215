//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package hostinfo

func uname() (machine, sysname string) { return "", "" }
