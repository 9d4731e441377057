// Package turnrest generates coturn-compatible TURN REST credentials.
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest:
//
//	username   = <unix_expiry>:<participant_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// The TURN server verifies the signature and rejects expired usernames, so no
// credential store is needed on either side.
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Credentials is one short-lived TURN login.
type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

// Generator signs TURN usernames with a shared secret. The zero value is not
// usable; construct with NewGenerator.
type Generator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewGenerator returns a generator for the given shared secret and credential
// lifetime.
func NewGenerator(secret string, ttl time.Duration) (*Generator, error) {
	if secret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("turnrest: ttl must be positive")
	}
	return &Generator{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Generate produces credentials tied to a participant id. The id lands in
// the TURN username, so it must not contain the ':' field separator.
func (g *Generator) Generate(participantID string) (Credentials, error) {
	if participantID == "" {
		return Credentials{}, errors.New("turnrest: participant id is required")
	}
	if strings.ContainsRune(participantID, ':') {
		return Credentials{}, errors.New("turnrest: participant id must not contain ':'")
	}

	expires := g.now().UTC().Add(g.ttl)
	username := fmt.Sprintf("%d:%s", expires.Unix(), participantID)
	return Credentials{
		Username:   username,
		Credential: sign(g.secret, username),
		ExpiresAt:  expires,
	}, nil
}

// GenerateRandom produces credentials with a random participant id, for
// participants that have not been assigned one yet.
func (g *Generator) GenerateRandom() (Credentials, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Credentials{}, err
	}
	return g.Generate(hex.EncodeToString(b[:]))
}

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
