// internal/access/access.go
//
// Boundary to the access-control and credential services. The session
// services never see policy internals or encrypted secrets, only the
// resolved connection parameters and decrypted material these interfaces
// hand back.
package access

// ConnectionParams is what access control resolves for an authorized
// user+resource pair. CredentialRef points at encrypted material held by the
// credential service, never raw secrets.
type ConnectionParams struct {
	ResourceID    string            `json:"resourceId"`
	Host          string            `json:"host"`
	Port          int               `json:"port"`
	RemoteUser    string            `json:"remoteUser"`
	Engine        string            `json:"engine,omitempty"`
	Database      string            `json:"database,omitempty"`
	ExtraParams   map[string]string `json:"extraParams,omitempty"`
	CredentialRef string            `json:"credentialRef"`
}

// SecretMaterial is decrypted credential material. It is passed by value into
// a connection factory and must not be retained past connection
// establishment.
type SecretMaterial struct {
	Password      string `json:"password,omitempty"`
	PrivateKeyPEM string `json:"privateKeyPem,omitempty"`
	Passphrase    string `json:"passphrase,omitempty"`
}
