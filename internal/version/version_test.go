package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	for _, want := range []string{"version: " + Version, "commit: " + Commit, "built: " + BuildDate} {
		if !strings.Contains(info, want) {
			t.Fatalf("info %q should contain %q", info, want)
		}
	}
	if UserAgent() != "utxowatcher/"+Version {
		t.Fatalf("unexpected user agent %q", UserAgent())
	}
}
