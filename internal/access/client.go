// internal/access/client.go
package access

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sessionbridge-service/internal/pkg/xerrors"
)

// Control authorizes a user against a resource and resolves connection
// parameters for it.
type Control interface {
	AuthorizeAndResolve(ctx context.Context, userID, resourceID string) (ConnectionParams, error)
}

// CredentialResolver decrypts a credential reference into usable secret
// material.
type CredentialResolver interface {
	Decrypt(ctx context.Context, credentialRef string) (SecretMaterial, error)
}

// Client talks to the access-control service over HTTP. It implements both
// Control and CredentialResolver.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) AuthorizeAndResolve(ctx context.Context, userID, resourceID string) (ConnectionParams, error) {
	body, _ := json.Marshal(map[string]string{
		"userId":     userID,
		"resourceId": resourceID,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/internal/v1/access/resolve", bytes.NewReader(body))
	if err != nil {
		return ConnectionParams{}, xerrors.Wrap(xerrors.ErrInfrastructure, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ConnectionParams{}, xerrors.Wrap(xerrors.ErrInfrastructure,
			fmt.Sprintf("access control call failed: %v", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var params ConnectionParams
		if err := json.NewDecoder(resp.Body).Decode(&params); err != nil {
			return ConnectionParams{}, xerrors.Wrap(xerrors.ErrInfrastructure,
				fmt.Sprintf("decode access control response: %v", err))
		}
		return params, nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound:
		return ConnectionParams{}, xerrors.ErrAccessDenied
	default:
		return ConnectionParams{}, xerrors.Wrap(xerrors.ErrInfrastructure,
			fmt.Sprintf("access control returned status %d", resp.StatusCode))
	}
}

func (c *Client) Decrypt(ctx context.Context, credentialRef string) (SecretMaterial, error) {
	body, _ := json.Marshal(map[string]string{"credentialRef": credentialRef})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/internal/v1/credentials/decrypt", bytes.NewReader(body))
	if err != nil {
		return SecretMaterial{}, xerrors.Wrap(xerrors.ErrInfrastructure, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return SecretMaterial{}, xerrors.Wrap(xerrors.ErrInfrastructure,
			fmt.Sprintf("credential service call failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SecretMaterial{}, xerrors.Wrap(xerrors.ErrInfrastructure,
			fmt.Sprintf("credential service returned status %d", resp.StatusCode))
	}

	var material SecretMaterial
	if err := json.NewDecoder(resp.Body).Decode(&material); err != nil {
		return SecretMaterial{}, xerrors.Wrap(xerrors.ErrInfrastructure,
			fmt.Sprintf("decode credential response: %v", err))
	}
	return material, nil
}
