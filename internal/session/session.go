// Package session holds the per-client map sessions: one surface, one
// identify coordinator and one measure tool each, in a bounded registry.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opendmis/map-session/internal/arcgis"
	"github.com/opendmis/map-session/internal/catalog"
	"github.com/opendmis/map-session/internal/composer"
	"github.com/opendmis/map-session/internal/identify"
	"github.com/opendmis/map-session/internal/logger"
	"github.com/opendmis/map-session/internal/mapsurface"
	"github.com/opendmis/map-session/internal/measure"
	"github.com/opendmis/map-session/internal/model"
	"github.com/opendmis/map-session/internal/observability"
	"github.com/opendmis/map-session/internal/ogc"
)

// Session owns the mutable map state for one client. The surface and the
// canonical WMS source are created once at session init; nothing is shared
// across sessions.
type Session struct {
	ID        string
	CreatedAt time.Time

	Surface   *mapsurface.Surface
	WMSSource *ogc.WMSSource
	Identify  *identify.Coordinator
	Measure   *measure.Tool
	Catalog   model.Catalog
}

type Manager struct {
	log      *slog.Logger
	sessions *lru.Cache[string, *Session]

	catalog  *catalog.Client
	composer *composer.Composer
	arcgis   *arcgis.Client
	excluded []string
}

func NewManager(log *slog.Logger, limit int, cat *catalog.Client, cmp *composer.Composer, arc *arcgis.Client, excludedLayers []string) (*Manager, error) {
	if limit <= 0 {
		limit = 512
	}
	m := &Manager{
		log:      log,
		catalog:  cat,
		composer: cmp,
		arcgis:   arc,
		excluded: excludedLayers,
	}
	cache, err := lru.NewWithEvict[string, *Session](limit, func(id string, _ *Session) {
		log.Debug("session evicted", "session_id", id)
	})
	if err != nil {
		return nil, fmt.Errorf("session cache: %w", err)
	}
	m.sessions = cache
	return m, nil
}

// Create initializes a new map session: fresh surface, catalog fetch, layer
// composition, identify and measure tools. A catalog failure aborts the
// session; the gateway distinguishes 401 from other upstream errors.
func (m *Manager) Create(ctx context.Context, category model.MapCategory) (*Session, error) {
	cat, err := m.catalog.GetLayers(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}

	surface := mapsurface.New()
	wmsSource, err := m.composer.Compose(ctx, surface, cat)
	if err != nil {
		return nil, fmt.Errorf("compose layers: %w", err)
	}

	sess := &Session{
		ID:        logger.NewID(),
		CreatedAt: time.Now(),
		Surface:   surface,
		WMSSource: wmsSource,
		Identify:  identify.New(m.log, m.catalog, m.arcgis, m.excluded),
		Measure:   measure.NewTool(),
		Catalog:   cat,
	}

	m.sessions.Add(sess.ID, sess)
	observability.SetActiveSessions(m.sessions.Len())
	m.log.Info("session created", "session_id", sess.ID, "layers", len(cat.All()))
	return sess, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	return m.sessions.Get(id)
}

func (m *Manager) Delete(id string) {
	m.sessions.Remove(id)
	observability.SetActiveSessions(m.sessions.Len())
}

func (m *Manager) Len() int { return m.sessions.Len() }
