// Package client provides Google credential setup for the cloud services finsync uses.
package client

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// StorageScope is the OAuth scope needed to read and write receipt images.
const StorageScope = "https://www.googleapis.com/auth/devstorage.read_write"

// Credentials loads Google credentials from a service account JSON file.
// An empty path falls back to Application Default Credentials.
func Credentials(ctx context.Context, credentialsFile string, scope ...string) (*google.Credentials, error) {
	if credentialsFile == "" {
		creds, err := google.FindDefaultCredentials(ctx, scope...)
		if err != nil {
			return nil, fmt.Errorf("finding default credentials: %w", err)
		}
		return creds, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	return CredentialsFromJSON(ctx, b, scope...)
}

// CredentialsFromJSON parses Google credentials from JSON content.
func CredentialsFromJSON(ctx context.Context, credentialsJSON []byte, scope ...string) (*google.Credentials, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, scope...)
	if err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	return creds, nil
}

// Options returns client options authenticating Google API clients with
// the given credentials file.
func Options(ctx context.Context, credentialsFile string, scope ...string) ([]option.ClientOption, error) {
	creds, err := Credentials(ctx, credentialsFile, scope...)
	if err != nil {
		return nil, err
	}

	return []option.ClientOption{option.WithCredentials(creds)}, nil
}
