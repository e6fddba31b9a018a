// internal/sshx/factory.go
package sshx

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"sessionbridge-service/internal/access"
	"sessionbridge-service/internal/pkg/xerrors"
)

// Connect opens an SSH transport to the target described by params using the
// decrypted secret material. This is the only code path that sees raw
// secrets; material is passed by value and not retained.
func Connect(ctx context.Context, params access.ConnectionParams, material access.SecretMaterial,
	hostKey ssh.HostKeyCallback, connectTimeout time.Duration) (*Wrapper, error) {

	auth, err := authMethods(material)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            params.RemoteUser,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         connectTimeout,
	}

	addr := net.JoinHostPort(params.Host, fmt.Sprintf("%d", params.Port))

	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("dial %s: %v", addr, err))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.ErrRemoteOperation,
			fmt.Sprintf("ssh handshake with %s: %v", addr, err))
	}

	return NewWrapper(ssh.NewClient(sshConn, chans, reqs)), nil
}

func authMethods(material access.SecretMaterial) ([]ssh.AuthMethod, error) {
	var auth []ssh.AuthMethod

	if material.PrivateKeyPEM != "" {
		var signer ssh.Signer
		var err error
		if material.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(
				[]byte(material.PrivateKeyPEM), []byte(material.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(material.PrivateKeyPEM))
		}
		if err != nil {
			return nil, xerrors.Wrap(xerrors.ErrInvalidInput,
				fmt.Sprintf("parse private key: %v", err))
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if material.Password != "" {
		auth = append(auth, ssh.Password(material.Password))
	}

	if len(auth) == 0 {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "no usable credentials provided")
	}
	return auth, nil
}
