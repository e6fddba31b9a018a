// internal/hostkeys/record.go
package hostkeys

import (
	"crypto/sha256"
	"encoding/base64"
	"time"

	"golang.org/x/crypto/ssh"
)

// Policy controls how unknown or changed host keys are treated during the
// SSH handshake.
type Policy string

const (
	// PolicyStrict rejects any host whose key is not already on record.
	PolicyStrict Policy = "STRICT"
	// PolicyAsk accepts and records a key on first sight, then rejects any
	// later change for the same host.
	PolicyAsk Policy = "ASK"
	// PolicyAutoAccept accepts every key and keeps the record current.
	PolicyAutoAccept Policy = "AUTO_ACCEPT"
)

func ParsePolicy(s string) (Policy, bool) {
	switch Policy(s) {
	case PolicyStrict, PolicyAsk, PolicyAutoAccept:
		return Policy(s), true
	}
	return "", false
}

// Record is one trusted host key.
type Record struct {
	ID           int64     `json:"id"`
	Hostname     string    `json:"hostname"`
	Port         int       `json:"port"`
	KeyType      string    `json:"keyType"`
	KeyBase64    string    `json:"keyBase64"` // wire format public key
	Fingerprint  string    `json:"fingerprint"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastVerified time.Time `json:"lastVerified"`
}

// Fingerprint returns the SHA-256 fingerprint of an SSH public key in the
// same "SHA256:..." form OpenSSH prints.
func Fingerprint(key ssh.PublicKey) string {
	sum := sha256.Sum256(key.Marshal())
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])
}

// NewRecord builds a record for a host and the key it presented.
func NewRecord(hostname string, port int, key ssh.PublicKey) Record {
	now := time.Now().UTC()
	return Record{
		Hostname:     hostname,
		Port:         port,
		KeyType:      key.Type(),
		KeyBase64:    base64.StdEncoding.EncodeToString(key.Marshal()),
		Fingerprint:  Fingerprint(key),
		FirstSeen:    now,
		LastVerified: now,
	}
}
