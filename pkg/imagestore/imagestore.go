// Package imagestore defines where original receipt images are archived.
package imagestore

import "context"

// Store archives receipt images and returns a URI that can read them back.
type Store interface {
	Put(ctx context.Context, userID, receiptID string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, uri string) ([]byte, error)
}
