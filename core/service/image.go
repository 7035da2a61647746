package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"nfcunha/orchestrator/core/models"

	"github.com/distribution/reference"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// minShortIDLen is the shortest id prefix accepted by Resolve, as printed by `docker images`.
const minShortIDLen = 12

// ImageSource is where the catalog reads images from.
type ImageSource interface {
	ListImages(ctx context.Context) ([]models.Image, error)
	PullImage(ctx context.Context, ref string) error
}

// ImageCatalog is a read-mostly TTL cache of the images known to the runtime.
type ImageCatalog struct {
	source ImageSource
	audit  *AuditService
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	images    []models.Image
	fetchedAt time.Time
	valid     bool

	refresh singleflight.Group
}

// NewImageCatalog creates a catalog that refetches after ttl.
func NewImageCatalog(source ImageSource, audit *AuditService, ttl time.Duration) *ImageCatalog {
	return &ImageCatalog{
		source: source,
		audit:  audit,
		ttl:    ttl,
		now:    time.Now,
	}
}

// List returns the cached images, refreshing them first when the cache expired.
// When a refresh fails but an older snapshot exists, the stale snapshot is served.
func (c *ImageCatalog) List(ctx context.Context) ([]models.Image, error) {
	if images, ok := c.cached(); ok {
		return cloneImages(images), nil
	}

	v, err, _ := c.refresh.Do("images", func() (interface{}, error) {
		// a concurrent refresh may have finished while we waited to enter
		if images, ok := c.cached(); ok {
			return images, nil
		}
		// shared by every waiter, so one caller going away must not fail the rest
		return c.load(context.WithoutCancel(ctx))
	})
	if err != nil {
		c.mu.RLock()
		stale, valid := c.images, c.valid
		c.mu.RUnlock()
		if valid {
			logrus.Warnf("Image refresh failed, serving cached list: %v", err)
			return cloneImages(stale), nil
		}
		return nil, err
	}
	return cloneImages(v.([]models.Image)), nil
}

// Resolve finds the image matching ref by id, id prefix or tag.
func (c *ImageCatalog) Resolve(ctx context.Context, ref string) (*models.Image, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: image reference is required", ErrValidation)
	}

	images, err := c.List(ctx)
	if err != nil {
		return nil, err
	}

	if img := matchImage(images, ref); img != nil {
		return img, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrImageNotFound, ref)
}

// Pull fetches ref from its registry and invalidates the cache.
func (c *ImageCatalog) Pull(ctx context.Context, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Errorf("%w: image reference is required", ErrValidation)
	}
	if _, err := reference.ParseNormalizedNamed(ref); err != nil {
		return fmt.Errorf("%w: invalid image reference %q: %v", ErrValidation, ref, err)
	}

	err := c.source.PullImage(ctx, ref)
	if err == nil {
		c.Invalidate()
		logrus.WithField("image", ref).Info("Image pulled")
	} else {
		logrus.WithField("image", ref).Warnf("Failed to pull image: %v", err)
	}
	return c.audit.logAction(ctx, "pull", "image", ref, ref, err)
}

// Invalidate drops the cached list so the next read refetches.
func (c *ImageCatalog) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

func (c *ImageCatalog) cached() ([]models.Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.valid || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.images, true
}

func (c *ImageCatalog) load(ctx context.Context) ([]models.Image, error) {
	images, err := c.source.ListImages(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.images = images
	c.fetchedAt = c.now()
	c.valid = true
	c.mu.Unlock()

	logrus.Debugf("Image catalog refreshed: %d images", len(images))
	return images, nil
}

func matchImage(images []models.Image, ref string) *models.Image {
	bare := strings.TrimPrefix(ref, "sha256:")
	for i := range images {
		id := images[i].ID
		if id == ref || strings.TrimPrefix(id, "sha256:") == bare {
			return cloneImage(images[i])
		}
	}

	if len(bare) >= minShortIDLen && isHex(bare) {
		for i := range images {
			if strings.HasPrefix(strings.TrimPrefix(images[i].ID, "sha256:"), bare) {
				return cloneImage(images[i])
			}
		}
	}

	want := normalizeTag(ref)
	for i := range images {
		for _, tag := range images[i].Tags {
			if tag == ref || (want != "" && normalizeTag(tag) == want) {
				return cloneImage(images[i])
			}
		}
	}
	return nil
}

// normalizeTag makes "nginx", "nginx:latest" and "docker.io/library/nginx:latest" equal.
func normalizeTag(ref string) string {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return ""
	}
	return reference.TagNameOnly(named).String()
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

func cloneImage(img models.Image) *models.Image {
	out := img
	out.Tags = append([]string{}, img.Tags...)
	out.Labels = make(map[string]string, len(img.Labels))
	for k, v := range img.Labels {
		out.Labels[k] = v
	}
	return &out
}

func cloneImages(images []models.Image) []models.Image {
	out := make([]models.Image, 0, len(images))
	for _, img := range images {
		out = append(out, *cloneImage(img))
	}
	return out
}
