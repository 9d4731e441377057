package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
}

func TestGenerate_UsernameAndSignature(t *testing.T) {
	g, err := NewGenerator("s3cret", time.Hour)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	g.now = fixedNow

	creds, err := g.Generate("peer-42")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	wantExpiry := fixedNow().Add(time.Hour)
	if !creds.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expiry: got %v, want %v", creds.ExpiresAt, wantExpiry)
	}
	if creds.Username != "1772370000:peer-42" {
		t.Errorf("username: got %q", creds.Username)
	}

	mac := hmac.New(sha1.New, []byte("s3cret"))
	mac.Write([]byte(creds.Username))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if creds.Credential != want {
		t.Errorf("credential: got %q, want %q", creds.Credential, want)
	}
}

func TestGenerate_RejectsBadParticipantIDs(t *testing.T) {
	g, err := NewGenerator("s3cret", time.Hour)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	if _, err := g.Generate(""); err == nil {
		t.Error("empty participant id accepted")
	}
	if _, err := g.Generate("a:b"); err == nil {
		t.Error("participant id with colon accepted")
	}
}

func TestGenerateRandom_UniqueUsernames(t *testing.T) {
	g, err := NewGenerator("s3cret", time.Hour)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	a, err := g.GenerateRandom()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := g.GenerateRandom()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a.Username == b.Username {
		t.Error("random participant ids collided")
	}
	if !strings.Contains(a.Username, ":") {
		t.Errorf("username missing expiry separator: %q", a.Username)
	}
}

func TestNewGenerator_Validation(t *testing.T) {
	if _, err := NewGenerator("", time.Hour); err == nil {
		t.Error("empty secret accepted")
	}
	if _, err := NewGenerator("s3cret", 0); err == nil {
		t.Error("zero ttl accepted")
	}
}
