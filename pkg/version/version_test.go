package version

import "testing"

func TestVersionSet(t *testing.T) {
	if Version == "" {
		t.Error("Version must carry a default for unstamped builds")
	}
}
