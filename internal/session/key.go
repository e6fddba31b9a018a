// internal/session/key.go
package session

import (
	"crypto/sha1"
	"fmt"
	"strings"
)

// Kind identifies the protocol family of a session. DB sessions carry the
// engine name so that e.g. a postgres and a mysql session to the same
// resource id are distinct logical sessions.
type Kind string

const (
	KindSSH Kind = "SSH"

	kindDBPrefix = "DB:"
)

// DBKind builds the session kind for a database engine, e.g. "DB:POSTGRESQL".
func DBKind(engine string) Kind {
	return Kind(kindDBPrefix + strings.ToUpper(engine))
}

// IsDB reports whether the kind denotes a database session.
func (k Kind) IsDB() bool {
	return strings.HasPrefix(string(k), kindDBPrefix)
}

// Engine returns the database engine name for a DB kind ("" for SSH).
func (k Kind) Engine() string {
	if !k.IsDB() {
		return ""
	}
	return strings.TrimPrefix(string(k), kindDBPrefix)
}

// Key is the identity of a logical session: the owning user, the target
// resource, and the resource kind. It is a value type used as a map key;
// two sessions with the same triple are the same logical session.
type Key struct {
	UserID     string `json:"userId"`
	ResourceID string `json:"resourceId"`
	Kind       Kind   `json:"kind"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.UserID, k.ResourceID, k.Kind)
}

// DeriveResourceID maps a user-chosen connection alias to a stable
// pseudo-UUID so the same alias always resolves to the same session slot.
func DeriveResourceID(userID, alias string) string {
	sum := sha1.Sum([]byte(userID + ":" + alias))
	// RFC 4122 version 5, variant 10 layout over the first 16 bytes.
	sum[6] = (sum[6] & 0x0f) | 0x50
	sum[8] = (sum[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", sum[0:4], sum[4:6], sum[6:8], sum[8:10], sum[10:16])
}
