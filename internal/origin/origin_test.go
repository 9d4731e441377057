package origin

import (
	"net/http/httptest"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in             string
		wantNormalized string
		wantHost       string
		wantOK         bool
	}{
		{"https://app.example.com", "https://app.example.com", "app.example.com", true},
		{"https://App.Example.COM", "https://app.example.com", "app.example.com", true},
		{"https://app.example.com:443", "https://app.example.com", "app.example.com", true},
		{"http://app.example.com:80", "http://app.example.com", "app.example.com", true},
		{"http://app.example.com:8080", "http://app.example.com:8080", "app.example.com:8080", true},
		{"http://[::1]:3000", "http://[::1]:3000", "[::1]:3000", true},
		{"null", "null", "", true},
		{"", "", "", false},
		{"ws://app.example.com", "", "", false},
		{"https://app.example.com/path", "", "", false},
		{"https://user@app.example.com", "", "", false},
		{"https://app.example.com?q=1", "", "", false},
		{"https://app.example.com:0", "", "", false},
		{"https://app.example.com:99999", "", "", false},
	}

	for _, tc := range cases {
		normalized, host, ok := Normalize(tc.in)
		if ok != tc.wantOK || normalized != tc.wantNormalized || host != tc.wantHost {
			t.Errorf("Normalize(%q) = %q, %q, %v; want %q, %q, %v",
				tc.in, normalized, host, ok, tc.wantNormalized, tc.wantHost, tc.wantOK)
		}
	}
}

func TestChecker_SameHostDefault(t *testing.T) {
	c := NewChecker(nil)

	r := httptest.NewRequest("GET", "http://relay.example.com:8080/ws", nil)
	r.Host = "relay.example.com:8080"

	r.Header.Set("Origin", "http://relay.example.com:8080")
	if !c.Allow(r) {
		t.Error("same-host origin rejected")
	}

	r.Header.Set("Origin", "http://evil.example.com")
	if c.Allow(r) {
		t.Error("cross-host origin accepted")
	}

	r.Header.Set("Origin", "null")
	if c.Allow(r) {
		t.Error("null origin accepted under same-host policy")
	}

	// HTTPS origin against default-port request host still matches: scheme is
	// not compared, only host:port with default ports elided.
	r2 := httptest.NewRequest("GET", "http://relay.example.com/ws", nil)
	r2.Host = "relay.example.com:443"
	r2.Header.Set("Origin", "https://relay.example.com")
	if !c.Allow(r2) {
		t.Error("TLS-terminated proxy origin rejected")
	}
}

func TestChecker_Allowlist(t *testing.T) {
	c := NewChecker([]string{"https://app.example.com", " https://Other.Example.com:8443 "})

	r := httptest.NewRequest("GET", "http://relay.internal/ws", nil)

	r.Header.Set("Origin", "https://app.example.com")
	if !c.Allow(r) {
		t.Error("allowlisted origin rejected")
	}
	r.Header.Set("Origin", "https://other.example.com:8443")
	if !c.Allow(r) {
		t.Error("allowlisted origin with port rejected")
	}
	r.Header.Set("Origin", "https://app.example.com:8443")
	if c.Allow(r) {
		t.Error("non-listed port accepted")
	}
	r.Header.Set("Origin", "http://relay.internal")
	if c.Allow(r) {
		t.Error("same-host origin accepted despite explicit allowlist")
	}
}

func TestChecker_Wildcard(t *testing.T) {
	c := NewChecker([]string{"*"})

	r := httptest.NewRequest("GET", "http://relay.internal/ws", nil)
	r.Header.Set("Origin", "https://anything.example.com")
	if !c.Allow(r) {
		t.Error("wildcard rejected an origin")
	}
	// Malformed origins are still rejected before the allowlist applies.
	r.Header.Set("Origin", "not a url at all ://")
	if c.Allow(r) {
		t.Error("wildcard accepted a malformed origin")
	}
}

func TestChecker_NoOriginHeaderAllowed(t *testing.T) {
	c := NewChecker([]string{"https://app.example.com"})
	r := httptest.NewRequest("GET", "http://relay.internal/ws", nil)
	if !c.Allow(r) {
		t.Error("non-browser client without Origin rejected")
	}
}
