package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet_Defaults(t *testing.T) {
	t.Parallel()

	info := Get()
	if info.Version != "dev" || info.Commit != "unknown" || info.BuildDate != "unknown" {
		t.Errorf("unexpected defaults %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q", info.GoVersion)
	}
	if s := info.String(); !strings.HasPrefix(s, "docsearch dev (commit unknown") {
		t.Errorf("String() = %q", s)
	}
}
