// Package hostinfo reports facts about the machine the function runs on.
package hostinfo

import "runtime"

// HostInfo describes the host environment reported in greeting bodies.
type HostInfo interface {
	// Architecture is the machine hardware name, e.g. "x86_64" or "aarch64".
	Architecture() string
	// OperatingSystem is the kernel name, e.g. "Linux".
	OperatingSystem() string
	// Version identifies the language runtime, e.g. "go1.24.1".
	Version() string
}

type host struct {
	arch string
	os   string
}

// Host returns the real host. Machine facts are read when Host is called.
func Host() HostInfo {
	arch, osName := uname()
	if arch == "" {
		arch = runtime.GOARCH
	}
	if osName == "" {
		osName = runtime.GOOS
	}
	return host{arch: arch, os: osName}
}

func (h host) Architecture() string    { return h.arch }
func (h host) OperatingSystem() string { return h.os }
func (h host) Version() string         { return runtime.Version() }

// Fixed is a HostInfo with static values.
type Fixed struct {
	Arch    string
	OS      string
	Runtime string
}

func (f Fixed) Architecture() string    { return f.Arch }
func (f Fixed) OperatingSystem() string { return f.OS }
func (f Fixed) Version() string         { return f.Runtime }
