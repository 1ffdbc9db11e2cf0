// Package invalidation defines the layer-catalog change events emitted when
// an administrator edits the layer list, and the purge they trigger.
package invalidation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opendmis/map-session/internal/cache/keys"
	"github.com/opendmis/map-session/internal/cache/redisstore"
)

// Event describes one catalog mutation.
type Event struct {
	Version   int       `json:"version"`
	Op        string    `json:"op"`
	LayerName string    `json:"layerName"`
	Category  string    `json:"category,omitempty"`
	TS        time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "create", "update", "delete":
	default:
		return fmt.Errorf("op must be create|update|delete")
	}
	if strings.TrimSpace(e.LayerName) == "" {
		return fmt.Errorf("layerName is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// Purger drops the cached state a catalog event touches: every TOC snapshot
// plus the changed layer's payload and legend entries.
type Purger struct {
	cache *redisstore.Client
}

func NewPurger(cache *redisstore.Client) *Purger {
	return &Purger{cache: cache}
}

func (p *Purger) Purge(ctx context.Context, e Event) (int, error) {
	if p.cache == nil {
		return 0, nil
	}
	total := 0
	prefixes := append([]string{keys.PrefixCatalog}, keys.LayerPrefixes(e.LayerName)...)
	for _, prefix := range prefixes {
		n, err := p.cache.DelPrefix(ctx, prefix)
		total += n
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", prefix, err)
		}
	}
	return total, nil
}
