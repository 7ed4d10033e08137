package notifier

import "testing"

func TestIsNewer(t *testing.T) {
	testCases := []struct {
		latest  string
		current string
		want    bool
	}{
		{"28.0.0", "27.3.0", true},
		{"27.3.1", "27.3.0", true},
		{"27.3.0", "27.3.0", false},
		{"27.2.9", "27.3.0", false},
		{"999.0.0", "1000.0.0", false},
		{"v2.0.0", "1.9.9", true},
		{"28.0.0-canary.1", "27.3.0", true},
		{"28.0.0-canary.1", "28.0.0", false},
		{"not-a-version", "1.0.0", false},
		{"2.0.0", "garbage", false},
	}

	for _, tc := range testCases {
		if got := isNewer(tc.latest, tc.current); got != tc.want {
			t.Fatalf("isNewer(%q, %q) = %v, want %v", tc.latest, tc.current, got, tc.want)
		}
	}
}

func TestIsDevelopmentVersion(t *testing.T) {
	for _, v := range []string{"", "dev", "devel", "unknown", "devel+abc123", "  "} {
		if !isDevelopmentVersion(v) {
			t.Fatalf("%q should be treated as a development version", v)
		}
	}
	for _, v := range []string{"27.3.0", "v1.0.0", "0.0.1-dev"} {
		if isDevelopmentVersion(v) {
			t.Fatalf("%q should be treated as a release version", v)
		}
	}
}
