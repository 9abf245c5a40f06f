package registry

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// SecretStore resolves a secret reference to its latest value.
type SecretStore interface {
	Access(ctx context.Context, ref string) (string, error)
}

// GoogleSecretStore reads secrets from Google Secret Manager.
type GoogleSecretStore struct {
	client    *secretmanager.Client
	projectID string
}

// NewGoogleSecretStore creates a secret store bound to one GCP project.
func NewGoogleSecretStore(ctx context.Context, projectID string) (*GoogleSecretStore, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}
	return &GoogleSecretStore{client: client, projectID: projectID}, nil
}

// Access returns the latest version of the referenced secret.
func (s *GoogleSecretStore) Access(ctx context.Context, ref string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, ref)
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		// Deliberately omits the payload; the ref alone is safe to report.
		return "", fmt.Errorf("failed to access secret %s: %w", ref, err)
	}
	return string(resp.GetPayload().GetData()), nil
}

// Close releases the underlying client connection.
func (s *GoogleSecretStore) Close() error {
	return s.client.Close()
}

// StaticSecretStore is a map-backed SecretStore for tests and local runs.
type StaticSecretStore map[string]string

func (s StaticSecretStore) Access(_ context.Context, ref string) (string, error) {
	value, ok := s[ref]
	if !ok {
		return "", fmt.Errorf("secret %s not found", ref)
	}
	return value, nil
}
