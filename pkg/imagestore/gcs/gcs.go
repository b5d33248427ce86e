// Package gcs archives receipt images in a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ArionMiles/finsync/pkg/api"
	"github.com/ArionMiles/finsync/pkg/client"
	"github.com/ArionMiles/finsync/pkg/imagestore"
)

const uploadTimeout = 2 * time.Minute

// Store writes objects under receipts/<user>/<receipt><ext>.
type Store struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

var _ imagestore.Store = (*Store)(nil)

// New opens a storage client for bucket. credentialsFile may be empty to
// use Application Default Credentials.
func New(ctx context.Context, bucket, credentialsFile string, logger *slog.Logger, opts ...option.ClientOption) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("receipts bucket: %w", api.ErrInvalidArgument)
	}
	if logger == nil {
		logger = slog.Default()
	}

	if len(opts) == 0 {
		authOpts, err := client.Options(ctx, credentialsFile, client.StorageScope)
		if err != nil {
			return nil, fmt.Errorf("loading storage credentials: %w", err)
		}
		opts = authOpts
	}

	sc, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &Store{client: sc, bucket: bucket, logger: logger.With("component", "gcs")}, nil
}

// Close releases the storage client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Put uploads one receipt image and returns its gs:// URI.
func (s *Store) Put(ctx context.Context, userID, receiptID string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	objectName := ObjectName(userID, receiptID, contentType)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"user_id": userID, "receipt_id": receiptID}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy image to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", classify(err))
	}

	uri := fmt.Sprintf("gs://%s/%s", s.bucket, objectName)
	s.logger.Info("receipt image archived", "receipt_id", receiptID, "gcs_uri", uri, "bytes", len(data))
	return uri, nil
}

// Get downloads an object by its gs:// URI.
func (s *Store) Get(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading object %s/%s: %w", bucket, object, classify(err))
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading bytes: %w", err)
	}
	return data, nil
}

// classify tags a storage error with the error taxonomy. Missing objects
// are not found; everything else is an upstream failure.
func classify(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %w", api.ErrNotFound, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %w", api.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", api.ErrUpstream, err)
}

// ObjectName builds the object path for a receipt image.
func ObjectName(userID, receiptID, contentType string) string {
	ext := ".bin"
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "image/jpeg":
			ext = ".jpg"
		case "image/png":
			ext = ".png"
		case "image/webp":
			ext = ".webp"
		case "image/heic":
			ext = ".heic"
		case "application/pdf":
			ext = ".pdf"
		}
	}
	return path.Join("receipts", userID, receiptID+ext)
}

// ParseURI splits gs://bucket/object into its parts.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI %q: %w", uri, api.ErrInvalidArgument)
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(uri, "gs://"), "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path) %q: %w", uri, api.ErrInvalidArgument)
	}
	return bucket, object, nil
}
