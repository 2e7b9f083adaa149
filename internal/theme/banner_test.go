package theme

import (
	"strings"
	"testing"
)

func TestBannerHasTagline(t *testing.T) {
	if !strings.Contains(Banner(), "deals and activity") {
		t.Fatal("banner tagline missing")
	}
}
