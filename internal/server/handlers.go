package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"github.com/opendmis/map-session/internal/catalog"
	"github.com/opendmis/map-session/internal/identify"
	"github.com/opendmis/map-session/internal/mapsurface"
	"github.com/opendmis/map-session/internal/measure"
	"github.com/opendmis/map-session/internal/model"
	"github.com/opendmis/map-session/internal/ogc"
	"github.com/opendmis/map-session/internal/session"
)

type handlers struct {
	log      *slog.Logger
	sessions *session.Manager
	catalog  *catalog.Client

	wmsEndpoint     string
	identifyTimeout time.Duration
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// upstreamStatus maps catalog failures: 401 means the session's credentials
// were rejected, everything else is a bad gateway.
func upstreamStatus(err error) int {
	if errors.Is(err, catalog.ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	return http.StatusBadGateway
}

type layerView struct {
	Name      string `json:"name"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	ZIndex    int    `json:"zIndex"`
	Visible   bool   `json:"visible"`
	Heatmap   bool   `json:"heatmap,omitempty"`
	Legend    string `json:"legend,omitempty"`
	Copyright string `json:"copyright,omitempty"`
}

func layerViews(ls []*mapsurface.MapLayer) []layerView {
	out := make([]layerView, 0, len(ls))
	for _, l := range ls {
		out = append(out, layerView{
			Name:      l.Name,
			Title:     l.Title,
			Type:      string(l.Type),
			ZIndex:    l.ZIndex,
			Visible:   l.Visible(),
			Heatmap:   l.Heatmap,
			Legend:    l.Legend(),
			Copyright: l.Copyright,
		})
	}
	return out
}

type viewState struct {
	Center     model.Coordinate `json:"center"`
	Zoom       float64          `json:"zoom"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Resolution float64          `json:"resolution"`
}

func viewOf(v mapsurface.View) viewState {
	return viewState{
		Center:     model.Coordinate{X: v.Center[0], Y: v.Center[1]},
		Zoom:       v.Zoom,
		Width:      v.Size[0],
		Height:     v.Size[1],
		Resolution: v.Resolution(),
	}
}

type sessionResponse struct {
	ID          string      `json:"id"`
	CreatedAt   time.Time   `json:"createdAt"`
	BaseURL     string      `json:"baseUrl"`
	Attribution string      `json:"attribution"`
	View        viewState   `json:"view"`
	Layers      []layerView `json:"layers"`
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Category string `json:"category"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
	}
	category, err := model.ParseMapCategory(body.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.sessions.Create(r.Context(), category)
	if err != nil {
		h.log.Error("create session", "err", err)
		writeError(w, upstreamStatus(err), "create session: "+err.Error())
		return
	}

	base := sess.Surface.Base()
	writeJSON(w, http.StatusCreated, sessionResponse{
		ID:          sess.ID,
		CreatedAt:   sess.CreatedAt,
		BaseURL:     base.URLTemplate,
		Attribution: base.Attribution,
		View:        viewOf(sess.Surface.View()),
		Layers:      layerViews(sess.Surface.Layers()),
	})
}

// getSession resolves the {id} route param, writing 404 on a miss.
func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	sess, ok := h.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return nil, false
	}
	return sess, true
}

func (h *handlers) listLayers(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"view":   viewOf(sess.Surface.View()),
		"layers": layerViews(sess.Surface.Layers()),
	})
}

func (h *handlers) toggleLayer(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	visible, found := sess.Surface.ToggleLayer(name)
	if !found {
		writeError(w, http.StatusNotFound, "unknown layer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "visible": visible})
}

func (h *handlers) updateView(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Center *model.Coordinate `json:"center"`
		Zoom   *float64          `json:"zoom"`
		Width  int               `json:"width"`
		Height int               `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	if body.Center != nil || body.Zoom != nil {
		v := sess.Surface.View()
		center := v.Center
		zoom := v.Zoom
		if body.Center != nil {
			center = orb.Point{body.Center.X, body.Center.Y}
		}
		if body.Zoom != nil {
			zoom = *body.Zoom
		}
		sess.Surface.SetCenterZoom(center, zoom)
	}
	if body.Width > 0 && body.Height > 0 {
		sess.Surface.UpdateSize(body.Width, body.Height)
	}
	writeJSON(w, http.StatusOK, viewOf(sess.Surface.View()))
}

func (h *handlers) identifyClick(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Active     *bool             `json:"active"`
		Close      bool              `json:"close"`
		Coordinate *model.Coordinate `json:"coordinate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	if body.Active != nil {
		sess.Identify.SetActive(*body.Active)
	}
	if body.Close {
		sess.Identify.ClosePopup()
	}
	if body.Coordinate == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"active": sess.Identify.Active(),
			"popup":  sess.Identify.Popup(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.identifyTimeout)
	defer cancel()

	popup, err := sess.Identify.Identify(ctx, sess.Surface, sess.WMSSource, *body.Coordinate)
	switch {
	case errors.Is(err, identify.ErrInactive):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, identify.ErrSuperseded):
		writeJSON(w, http.StatusOK, map[string]any{"superseded": true})
		return
	case err != nil:
		h.log.Error("identify", "err", err, "session_id", sess.ID)
		writeError(w, http.StatusBadGateway, "identify: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"popup": popup})
}

type measureState struct {
	Active  bool             `json:"active"`
	Type    string           `json:"type"`
	Tooltip *measure.Tooltip `json:"tooltip,omitempty"`
	Help    string           `json:"help,omitempty"`
}

func measureStateOf(t *measure.Tool) measureState {
	return measureState{
		Active:  t.State() != measure.Inactive,
		Type:    string(t.Type()),
		Tooltip: t.Tooltip(),
		Help:    t.HelpMessage(),
	}
}

func (h *handlers) measureOp(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Op         string            `json:"op"`
		Type       string            `json:"type"`
		Coordinate *model.Coordinate `json:"coordinate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	tool := sess.Measure
	var err error
	switch body.Op {
	case "activate":
		tool.SetActive(true)
	case "deactivate":
		tool.SetActive(false)
	case "type":
		err = tool.SetType(measure.Type(body.Type))
	case "begin":
		if body.Coordinate == nil {
			writeError(w, http.StatusBadRequest, "coordinate is required")
			return
		}
		_, err = tool.Begin(*body.Coordinate)
	case "vertex":
		if body.Coordinate == nil {
			writeError(w, http.StatusBadRequest, "coordinate is required")
			return
		}
		_, err = tool.AddVertex(*body.Coordinate)
	case "finish":
		_, err = tool.Finish()
	case "cancel":
		tool.Cancel()
	default:
		writeError(w, http.StatusBadRequest, "unknown op")
		return
	}

	if err != nil {
		status := http.StatusConflict
		if errors.Is(err, measure.ErrShortSketch) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, measureStateOf(tool))
}

func (h *handlers) layerLegend(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")

	var layer *mapsurface.MapLayer
	for _, l := range sess.Surface.Layers() {
		if l.Name == name {
			layer = l
			break
		}
	}
	if layer == nil {
		writeError(w, http.StatusNotFound, "unknown layer")
		return
	}

	legend, _ := sess.Surface.Legend(name)
	if legend == "" && layer.Type == model.LayerTypeWMS {
		// The async fetch at compose time may not have resolved yet; go
		// straight to GetLegendGraphic.
		img, err := h.catalog.GetLegendImage(r.Context(), name,
			ogc.GetLegendGraphicURL(h.wmsEndpoint, name))
		if err != nil {
			writeError(w, upstreamStatus(err), "legend: "+err.Error())
			return
		}
		legend = "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)
		sess.Surface.SetLegend(name, legend)
	}
	if legend == "" {
		writeError(w, http.StatusNotFound, "no legend for layer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "legend": legend})
}

const tileSizeDefault = 256

// layerTile serves one rendered tile through the layer's authenticated
// loader. Only WMS layers carry one; everything else tiles client-side.
func (h *handlers) layerTile(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")

	var layer *mapsurface.MapLayer
	for _, l := range sess.Surface.Layers() {
		if l.Name == name {
			layer = l
			break
		}
	}
	if layer == nil {
		writeError(w, http.StatusNotFound, "unknown layer")
		return
	}
	if layer.TileLoad == nil {
		writeError(w, http.StatusNotFound, "layer has no tile source")
		return
	}

	q := r.URL.Query()
	ext, err := parseBBox(q.Get("bbox"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	width := intParam(q.Get("width"), tileSizeDefault)
	height := intParam(q.Get("height"), tileSizeDefault)

	img, err := layer.TileLoad(r.Context(), ext, width, height)
	if err != nil {
		h.log.Error("tile load", "err", err, "layer", name, "session_id", sess.ID)
		writeError(w, upstreamStatus(err), "tile: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(img)
}

func parseBBox(s string) (ogc.Extent, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return ogc.Extent{}, fmt.Errorf("bbox wants minx,miny,maxx,maxy, got %q", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return ogc.Extent{}, fmt.Errorf("bbox component %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return ogc.Extent{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}, nil
}

func intParam(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.sessions.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}
