// Package media stores binary assets (event images, ticket QR codes) in an
// external object store.
package media

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/kirinyoku/clubtix/internal/domain"
)

var (
	ErrUnsupportedType = errors.New("unsupported media type")
	ErrTooLarge        = errors.New("media too large")
	ErrEmpty           = errors.New("empty upload")
	// ErrUnavailable wraps failures of the object store itself.
	ErrUnavailable = errors.New("media store unavailable")
)

const DefaultMaxBytes int64 = 25 << 20

// AllowedTypes is the content-type allow-list. Types are sniffed from the
// bytes, never taken from the client.
var AllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"video/mp4",
	"video/webm",
	"application/pdf",
}

type UploadOptions struct {
	Folder string
	// Kinds restricts the accepted kinds. Empty accepts any allowed type.
	Kinds []domain.MediaKind
}

type Gateway interface {
	Upload(ctx context.Context, data []byte, opts UploadOptions) (domain.MediaRef, error)
	// Delete treats an already missing asset as success.
	Delete(ctx context.Context, ref domain.MediaRef) error
	// DeleteMany is best effort: failures are logged, never returned.
	DeleteMany(ctx context.Context, refs []domain.MediaRef)
	Ping(ctx context.Context) error
}

// Sniff validates data against the allow-list and the size ceiling and
// returns its detected content type and kind.
func Sniff(data []byte, maxBytes int64, kinds []domain.MediaKind) (string, domain.MediaKind, error) {
	const op = "media.Sniff"

	if len(data) == 0 {
		return "", "", fmt.Errorf("%s:%w", op, ErrEmpty)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if int64(len(data)) > maxBytes {
		return "", "", fmt.Errorf("%s:%w", op, ErrTooLarge)
	}

	m := mimetype.Detect(data)

	allowed := false
	for _, t := range AllowedTypes {
		if m.Is(t) {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", "", fmt.Errorf("%s:%w: %s", op, ErrUnsupportedType, m.String())
	}

	kind := KindOf(m.String())
	if len(kinds) > 0 && !slices.Contains(kinds, kind) {
		return "", "", fmt.Errorf("%s:%w: %s", op, ErrUnsupportedType, m.String())
	}

	return m.String(), kind, nil
}

func KindOf(contentType string) domain.MediaKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return domain.MediaImage
	case strings.HasPrefix(contentType, "video/"):
		return domain.MediaVideo
	}
	return domain.MediaRaw
}
