package version

import (
	"regexp"
	"testing"
)

func TestGet(t *testing.T) {
	v := Get()
	if !regexp.MustCompile(`^\d+\.\d+\.\d+$`).MatchString(v) {
		t.Errorf("Get() = %q, want a semantic version", v)
	}
}
