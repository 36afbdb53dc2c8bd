package local

import (
	"context"
	"strconv"

	"github.com/syssam/relmap"
	"github.com/syssam/relmap/condition"
	"github.com/syssam/relmap/domain"
)

// cacheEntity qualifies entityID with the domain, since domains may
// define the same entity ids.
func cacheEntity(domainID, entityID string) string {
	return domainID + "/" + entityID
}

func cacheKey(def *domain.Definition, sel *condition.Select, depth int) string {
	return relmap.CacheKey{
		Entity:     cacheEntity(def.DomainID(), sel.EntityID),
		Operation:  "select@" + strconv.Itoa(depth),
		Predicates: sel.String(),
		Limit:      sel.Limit,
		Offset:     sel.Offset,
	}.String()
}

// cached returns the cached result of a static data select. Cache
// failures are logged and treated as misses.
func (c *Connection) cached(ctx context.Context, def *domain.Definition, sel *condition.Select, depth int) ([]*domain.Entity, bool) {
	if c.cache == nil || !def.StaticData() || sel.ForUpdate || c.inTransaction() {
		return nil, false
	}
	b, err := c.cache.Get(ctx, cacheKey(def, sel, depth))
	if err != nil {
		c.logger.WarnContext(ctx, "cache get failed", "entity", def.ID(), "error", err)
		return nil, false
	}
	if b == nil {
		return nil, false
	}
	entities, err := domain.UnmarshalEntities(b)
	if err != nil {
		c.logger.WarnContext(ctx, "cache decode failed", "entity", def.ID(), "error", err)
		return nil, false
	}
	return entities, true
}

// store caches the result of a static data select. Selects in a
// transaction opened by the caller are not cached, they may see
// uncommitted rows.
func (c *Connection) store(ctx context.Context, def *domain.Definition, sel *condition.Select, depth int, entities []*domain.Entity) {
	if c.cache == nil || !def.StaticData() || sel.ForUpdate || c.inTransaction() {
		return
	}
	b, err := domain.MarshalEntities(entities)
	if err != nil {
		c.logger.WarnContext(ctx, "cache encode failed", "entity", def.ID(), "error", err)
		return
	}
	if err := c.cache.Set(ctx, cacheKey(def, sel, depth), b, c.cacheTTL); err != nil {
		c.logger.WarnContext(ctx, "cache set failed", "entity", def.ID(), "error", err)
	}
}

// invalidate drops the cached selects of the mutated entity types and of
// the static data types referencing them. Within a transaction opened by
// the caller the types are invalidated again when it ends.
func (c *Connection) invalidate(ctx context.Context, entityIDs ...string) {
	if c.cache == nil {
		return
	}
	if c.inTransaction() {
		if c.pending == nil {
			c.pending = make(map[string]bool)
		}
		for _, id := range entityIDs {
			c.pending[id] = true
		}
	}
	prefixes := make(map[string]bool)
	for _, id := range entityIDs {
		prefixes[relmap.CacheKey{Entity: cacheEntity(c.dom.ID(), id)}.Prefix()] = true
		for _, def := range c.dom.Definitions() {
			if def.StaticData() && len(def.ForeignKeysReferencing(id)) > 0 {
				prefixes[relmap.CacheKey{Entity: cacheEntity(c.dom.ID(), def.ID())}.Prefix()] = true
			}
		}
	}
	for prefix := range prefixes {
		if err := c.cache.DeletePrefix(ctx, prefix); err != nil {
			c.logger.WarnContext(ctx, "cache invalidation failed", "prefix", prefix, "error", err)
		}
	}
}
