// internal/session/metadata.go
package session

import "time"

// ConnectionDescriptor carries non-secret identifying fields about the live
// connection for diagnostics. Never credentials.
type ConnectionDescriptor struct {
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	Database   string `json:"database,omitempty"`
	RemoteUser string `json:"remoteUser,omitempty"`
	Engine     string `json:"engine,omitempty"`
}

// Metadata is the directory-resident view of a session. It is TTL-bound in
// the shared store and self-expires if the owning instance dies without
// releasing.
type Metadata struct {
	Key             Key                  `json:"key"`
	CreatedAt       time.Time            `json:"createdAt"`
	LastAccessedAt  time.Time            `json:"lastAccessedAt"`
	OwnerInstanceID string               `json:"ownerInstanceId"`
	CurrentToken    string               `json:"currentToken"`
	Descriptor      ConnectionDescriptor `json:"descriptor"`
}
