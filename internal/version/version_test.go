package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	Version = "1.2.3"
	defer func() { Version = "dev" }()

	info := Info()
	if !strings.Contains(info, "version: 1.2.3\n") {
		t.Fatalf("unexpected info %q", info)
	}
	if !strings.Contains(info, "go: go") {
		t.Fatalf("go version missing: %q", info)
	}
}
