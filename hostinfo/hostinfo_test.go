package hostinfo

import (
	"runtime"
	"strings"
	"testing"
)

func TestHostReportsNonEmptyFacts(t *testing.T) {
	// Test behavior: the real host always yields usable strings
	h := Host()
	if h.Architecture() == "" {
		t.Error("architecture should not be empty")
	}
	if h.OperatingSystem() == "" {
		t.Error("operating system should not be empty")
	}
	if h.Version() != runtime.Version() {
		t.Errorf("expected runtime version %q, got %q", runtime.Version(), h.Version())
	}
}

func TestHostOperatingSystemMatchesGOOS(t *testing.T) {
	// uname sysname is "Linux"/"Darwin" while GOOS is lower case
	h := Host()
	if !strings.EqualFold(h.OperatingSystem(), runtime.GOOS) {
		t.Errorf("expected %q to match GOOS %q", h.OperatingSystem(), runtime.GOOS)
	}
}

func TestFixed(t *testing.T) {
	var h HostInfo = Fixed{Arch: "arm64", OS: "Linux", Runtime: "go1.0"}
	if h.Architecture() != "arm64" || h.OperatingSystem() != "Linux" || h.Version() != "go1.0" {
		t.Errorf("Fixed should return its fields verbatim, got %+v", h)
	}
}
