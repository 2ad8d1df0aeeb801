package version

import (
	"strings"
	"testing"
)

func TestGetFullVersionDev(t *testing.T) {
	got := GetFullVersion()
	if !strings.HasPrefix(got, "ctxkeep/dev") || !strings.Contains(got, "commit:") {
		t.Fatalf("unexpected dev version string %q", got)
	}
}

func TestGetFullVersionRelease(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	if got := GetFullVersion(); got != "ctxkeep/1.2.3" {
		t.Fatalf("unexpected release version string %q", got)
	}
}

func TestGetInfo(t *testing.T) {
	info := Get()
	if info.Version != Version || info.GoVersion == "" || !strings.Contains(info.Platform, "/") {
		t.Fatalf("unexpected info %+v", info)
	}
}
