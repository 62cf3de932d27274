// Package mediatest provides an in-memory media.Gateway for tests.
package mediatest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirinyoku/clubtix/internal/domain"
	"github.com/kirinyoku/clubtix/internal/media"
)

// Gateway keeps uploaded assets in memory. Set FailUploads or FailDeletes
// to simulate an unreachable store.
type Gateway struct {
	mu          sync.Mutex
	seq         int
	assets      map[string]domain.MediaRef
	deleted     []string
	FailUploads bool
	FailDeletes bool
	MaxBytes    int64
}

var _ media.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{assets: map[string]domain.MediaRef{}}
}

func (g *Gateway) Upload(_ context.Context, data []byte, opts media.UploadOptions) (domain.MediaRef, error) {
	_, kind, err := media.Sniff(data, g.MaxBytes, opts.Kinds)
	if err != nil {
		return domain.MediaRef{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailUploads {
		return domain.MediaRef{}, fmt.Errorf("mediatest: upload:%w", media.ErrUnavailable)
	}

	g.seq++
	id := fmt.Sprintf("%s/asset-%d", opts.Folder, g.seq)
	ref := domain.MediaRef{URL: "https://media.test/" + id, MediaID: id, Kind: kind}
	g.assets[id] = ref

	return ref, nil
}

func (g *Gateway) Delete(_ context.Context, ref domain.MediaRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailDeletes {
		return fmt.Errorf("mediatest: delete:%w", media.ErrUnavailable)
	}

	delete(g.assets, ref.MediaID)
	g.deleted = append(g.deleted, ref.MediaID)

	return nil
}

func (g *Gateway) DeleteMany(ctx context.Context, refs []domain.MediaRef) {
	for _, ref := range refs {
		_ = g.Delete(ctx, ref)
	}
}

func (g *Gateway) Ping(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailUploads {
		return media.ErrUnavailable
	}
	return nil
}

// Has reports whether the asset is currently stored.
func (g *Gateway) Has(mediaID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.assets[mediaID]
	return ok
}

// Len is the number of stored assets.
func (g *Gateway) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.assets)
}

// Deleted lists the ids passed to Delete, in order.
func (g *Gateway) Deleted() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]string(nil), g.deleted...)
}
