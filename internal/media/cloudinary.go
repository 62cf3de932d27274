package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/cloudinary/cloudinary-go/v2/config"
	"github.com/kirinyoku/clubtix/internal/domain"
)

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	MaxBytes  int64
	// APIPrefix overrides the API host, e.g. for a regional endpoint.
	APIPrefix string
}

type Cloudinary struct {
	cld      *cloudinary.Cloudinary
	maxBytes int64
	log      *slog.Logger
}

var _ Gateway = (*Cloudinary)(nil)

func NewCloudinary(cfg CloudinaryConfig, log *slog.Logger) (*Cloudinary, error) {
	const op = "media.NewCloudinary"

	conf, err := config.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	if cfg.APIPrefix != "" {
		conf.API.UploadPrefix = cfg.APIPrefix
	}

	cld, err := cloudinary.NewFromConfiguration(*conf)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	return &Cloudinary{cld: cld, maxBytes: maxBytes, log: log}, nil
}

// Upload streams data from memory to the store.
//
// Returns:
//   - error: ErrEmpty, ErrTooLarge or ErrUnsupportedType for rejected input.
//   - error: ErrUnavailable if the store refused or could not be reached.
func (c *Cloudinary) Upload(ctx context.Context, data []byte, opts UploadOptions) (domain.MediaRef, error) {
	const op = "media.Cloudinary.Upload"

	_, kind, err := Sniff(data, c.maxBytes, opts.Kinds)
	if err != nil {
		return domain.MediaRef{}, err
	}

	res, err := c.cld.Upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		Folder:       opts.Folder,
		ResourceType: string(kind),
	})
	if err != nil {
		return domain.MediaRef{}, fmt.Errorf("%s:%w: %v", op, ErrUnavailable, err)
	}
	if res.Error.Message != "" {
		return domain.MediaRef{}, fmt.Errorf("%s:%w: %s", op, ErrUnavailable, res.Error.Message)
	}

	ref := domain.MediaRef{URL: res.SecureURL, MediaID: res.PublicID, Kind: kind}
	if res.ResourceType != "" {
		ref.Kind = domain.MediaKind(res.ResourceType)
	}

	return ref, nil
}

func (c *Cloudinary) Delete(ctx context.Context, ref domain.MediaRef) error {
	const op = "media.Cloudinary.Delete"

	if ref.MediaID == "" {
		return nil
	}
	kind := ref.Kind
	if kind == "" {
		kind = domain.MediaImage
	}

	res, err := c.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     ref.MediaID,
		ResourceType: string(kind),
		Invalidate:   boolPtr(true),
	})
	if err != nil {
		return fmt.Errorf("%s:%w: %v", op, ErrUnavailable, err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("%s:%w: %s", op, ErrUnavailable, res.Error.Message)
	}

	switch res.Result {
	case "ok", "not found":
		return nil
	}

	return fmt.Errorf("%s:%w: unexpected result %q", op, ErrUnavailable, res.Result)
}

func (c *Cloudinary) DeleteMany(ctx context.Context, refs []domain.MediaRef) {
	for _, ref := range refs {
		if err := c.Delete(ctx, ref); err != nil {
			c.log.Warn("media delete failed", slog.String("media_id", ref.MediaID), slog.Any("err", err))
		}
	}
}

func (c *Cloudinary) Ping(ctx context.Context) error {
	const op = "media.Cloudinary.Ping"

	res, err := c.cld.Admin.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%s:%w: %v", op, ErrUnavailable, err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("%s:%w: %s", op, ErrUnavailable, res.Error.Message)
	}

	return nil
}

func boolPtr(b bool) *bool { return &b }
