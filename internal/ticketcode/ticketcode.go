// Package ticketcode mints ticket codes and renders them as QR images.
package ticketcode

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/media"
	"github.com/skip2/go-qrcode"
)

// Len is the length of a minted code.
const Len = 22

const (
	qrFolder = "tickets/qr"
	qrSize   = 256
)

var ErrMediaUnavailable = errors.New("qr upload failed")

// MintCode returns a URL-safe code carrying the 122 random bits of a v4
// UUID. Uniqueness is enforced by the ticket store, not here.
func MintCode() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Valid reports whether s has the shape of a minted code.
func Valid(s string) bool {
	if len(s) != Len {
		return false
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil && len(b) == 16
}

type Renderer struct {
	media media.Gateway
	log   *slog.Logger
}

func NewRenderer(g media.Gateway, log *slog.Logger) *Renderer {
	return &Renderer{media: g, log: log}
}

// RenderQR encodes code as a PNG and uploads it. If previous is set it is
// deleted once the new image is stored; failing to delete it is only logged.
func (r *Renderer) RenderQR(ctx context.Context, code string, previous *domain.QR) (domain.QR, error) {
	const op = "ticketcode.Renderer.RenderQR"

	png, err := qrcode.Encode(code, qrcode.Medium, qrSize)
	if err != nil {
		return domain.QR{}, fmt.Errorf("%s:%w", op, err)
	}

	ref, err := r.media.Upload(ctx, png, media.UploadOptions{
		Folder: qrFolder,
		Kinds:  []domain.MediaKind{domain.MediaImage},
	})
	if err != nil {
		return domain.QR{}, fmt.Errorf("%s:%w: %w", op, ErrMediaUnavailable, err)
	}

	if previous != nil && previous.MediaID != "" && previous.MediaID != ref.MediaID {
		old := domain.MediaRef{URL: previous.URL, MediaID: previous.MediaID, Kind: domain.MediaImage}
		if err := r.media.Delete(ctx, old); err != nil {
			r.log.Warn("previous qr not deleted", slog.String("media_id", previous.MediaID), slog.Any("err", err))
		}
	}

	return domain.QR{URL: ref.URL, MediaID: ref.MediaID}, nil
}

// Discard removes an uploaded QR that ended up unused.
func (r *Renderer) Discard(ctx context.Context, qr domain.QR) {
	if qr.MediaID == "" {
		return
	}
	ref := domain.MediaRef{URL: qr.URL, MediaID: qr.MediaID, Kind: domain.MediaImage}
	if err := r.media.Delete(ctx, ref); err != nil {
		r.log.Warn("orphan qr not deleted", slog.String("media_id", qr.MediaID), slog.Any("err", err))
	}
}
