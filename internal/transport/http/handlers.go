package http

import (
	stdhttp "net/http"
	"strconv"
	"strings"
	"time"

	perr "calsieve/internal/platform/errors"
	"calsieve/internal/platform/logger"
	"calsieve/internal/platform/store"
	groupsdomain "calsieve/internal/services/groups/domain"
	projdomain "calsieve/internal/services/projection/domain"
	syncdomain "calsieve/internal/services/sync/domain"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultWindowDays is the projection window when the query omits to
const defaultWindowDays = 90

// Deps are the service ports the API mounts
type Deps struct {
	Groups      groupsdomain.ReaderPort
	Projections projdomain.CachePort
	Sync        syncdomain.CoordinatorPort
	Store       *store.Store
	Registry    *prometheus.Registry
}

// NewRouter wires middleware and routes
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(LoggerContext)
	r.Use(AccessLog(2 * time.Second))
	r.Use(RecoverJSON)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	h := &handlers{deps: deps}

	r.Get("/healthz", h.healthz)
	if deps.Registry != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/calendars/{calendarID}", func(r chi.Router) {
		r.Get("/groups", h.groups)
		r.Get("/filtered", h.filtered)
		r.Post("/sync", h.sync)
	})
	return r
}

type handlers struct {
	deps Deps
}

func (h *handlers) healthz(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if h.deps.Store != nil {
		if err := h.deps.Store.Guard(r.Context()); err != nil {
			RespondError(w, r, perr.Wrap(err, perr.ErrorCodeUnavailable, "storage unreachable"))
			return
		}
	}
	RespondOK(w, r, map[string]string{"status": "ok"})
}

// calendarID parses and context-annotates the path parameter
func calendarID(r *stdhttp.Request) (int64, *stdhttp.Request, error) {
	raw := chi.URLParam(r, "calendarID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, r, perr.InvalidArgf("invalid calendar id %q", raw)
	}
	ctx := logger.WithRequest(r.Context(), "", id)
	return id, r.WithContext(ctx), nil
}

func (h *handlers) groups(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	id, r, err := calendarID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	resp, err := h.deps.Groups.Grouped(r.Context(), id)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondOK(w, r, resp)
}

func (h *handlers) filtered(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	id, r, err := calendarID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	cfg, err := filterConfigFromQuery(id, r)
	if err != nil {
		RespondError(w, r, err)
		return
	}

	content, err := h.deps.Projections.GetOrBuild(r.Context(), cfg)
	switch {
	case err == nil:
		RespondCalendar(w, r, content)
	case perr.IsCode(err, perr.ErrorCodeCacheWrite):
		// content is fresh, only persistence failed; serve it anyway
		logger.C(r.Context()).Warn().Err(err).Msg("serving unpersisted projection")
		RespondCalendar(w, r, content)
	case perr.IsCode(err, perr.ErrorCodeStaleCache):
		// the rebuild failed but a previous artifact survives; outdated beats a 500
		logger.C(r.Context()).Warn().Err(err).Msg("serving stale projection")
		RespondCalendar(w, r, content)
	default:
		RespondError(w, r, err)
	}
}

func (h *handlers) sync(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	id, r, err := calendarID(r)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	rep, err := h.deps.Sync.Sync(r.Context(), id)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	RespondOK(w, r, map[string]any{
		"calendar_id":             rep.CalendarID,
		"updated":                 rep.Updated,
		"event_count":             rep.EventCount,
		"invalidated_projections": rep.InvalidatedProjections,
	})
}

// filterConfigFromQuery maps query parameters onto a projection config.
// from/to accept RFC 3339 or plain dates; groups/keywords/categories are
// comma separated; the window defaults to today plus 90 days
func filterConfigFromQuery(id int64, r *stdhttp.Request) (projdomain.FilterConfig, error) {
	q := r.URL.Query()
	cfg := projdomain.FilterConfig{CalendarID: id, Name: q.Get("name")}

	from, err := parseStamp(q.Get("from"))
	if err != nil {
		return cfg, perr.InvalidArgf("invalid from %q", q.Get("from"))
	}
	to, err := parseStamp(q.Get("to"))
	if err != nil {
		return cfg, perr.InvalidArgf("invalid to %q", q.Get("to"))
	}
	if from.IsZero() {
		from = time.Now().UTC().Truncate(24 * time.Hour)
	}
	if to.IsZero() {
		to = from.AddDate(0, 0, defaultWindowDays)
	}
	if !to.After(from) {
		return cfg, perr.InvalidArgf("window end must be after start")
	}
	cfg.WindowFrom = from
	cfg.WindowTo = to

	for _, raw := range splitCSV(q.Get("groups")) {
		gid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || gid <= 0 {
			return cfg, perr.InvalidArgf("invalid group id %q", raw)
		}
		cfg.GroupIDs = append(cfg.GroupIDs, gid)
	}
	cfg.Keywords = splitCSV(q.Get("keywords"))
	cfg.Categories = splitCSV(q.Get("categories"))
	return cfg, nil
}

func parseStamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
