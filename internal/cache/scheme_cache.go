package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/grading-service/internal/models"
)

// Scheme trees change rarely compared to how often grading reads them, so a
// short read-through cache takes most of the load off the tree preloads.
const schemeTreeTTL = 5 * time.Minute

// SchemeCache caches full scheme trees keyed by scheme id. Every scheme
// mutation invalidates the entry; a miss or an unavailable backend falls
// through to the database.
type SchemeCache struct {
	helper *CacheHelper
	logger *slog.Logger
}

func NewSchemeCache(client *redis.Client, logger *slog.Logger) *SchemeCache {
	return &SchemeCache{
		helper: NewCacheHelper(client, "scheme:"),
		logger: logger,
	}
}

func (c *SchemeCache) Get(ctx context.Context, schemeID uint) (*models.GradingScheme, bool) {
	var scheme models.GradingScheme
	err := c.helper.Get(ctx, fmt.Sprintf("tree:%d", schemeID), &scheme)
	if err != nil {
		if err != ErrCacheNotFound && err != ErrCacheNotAvailable {
			c.logger.Warn("scheme cache read failed", "scheme_id", schemeID, "error", err)
		}
		return nil, false
	}
	return &scheme, true
}

func (c *SchemeCache) Set(ctx context.Context, scheme *models.GradingScheme) {
	if err := c.helper.Set(ctx, fmt.Sprintf("tree:%d", scheme.ID), scheme, schemeTreeTTL); err != nil {
		c.logger.Warn("scheme cache write failed", "scheme_id", scheme.ID, "error", err)
	}
}

func (c *SchemeCache) Invalidate(ctx context.Context, schemeID uint) {
	if err := c.helper.Delete(ctx, fmt.Sprintf("tree:%d", schemeID)); err != nil {
		c.logger.Warn("scheme cache invalidation failed", "scheme_id", schemeID, "error", err)
	}
}
