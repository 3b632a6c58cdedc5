// Package handler exposes the REST API: the public send endpoint, the
// token-guarded admin CRUD surface, and health probes.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/impresshq/impress/internal/dispatch"
	"github.com/impresshq/impress/internal/store"
	"github.com/impresshq/impress/pkg/health"
)

// Store is the persistence surface the handlers depend on.
// *store.Store satisfies it.
type Store interface {
	ServiceByName(ctx context.Context, name string) (*store.Service, error)

	CreateAddress(ctx context.Context, a *store.EmailAddress) error
	AddressByID(ctx context.Context, id uuid.UUID) (*store.EmailAddress, error)
	ListAddresses(ctx context.Context) ([]store.EmailAddress, error)
	UpdateAddress(ctx context.Context, a *store.EmailAddress) error
	DeleteAddress(ctx context.Context, id uuid.UUID) error
	Unsubscribe(ctx context.Context, addressID, serviceID uuid.UUID) error

	CreateDistribution(ctx context.Context, d *store.Distribution) error
	DistributionByID(ctx context.Context, id uuid.UUID) (*store.Distribution, error)
	ListDistributions(ctx context.Context) ([]store.Distribution, error)
	UpdateDistribution(ctx context.Context, d *store.Distribution) error
	DeleteDistribution(ctx context.Context, id uuid.UUID) error

	CreateTemplate(ctx context.Context, t *store.Template) error
	TemplateByID(ctx context.Context, id uuid.UUID) (*store.Template, error)
	ListTemplates(ctx context.Context) ([]store.Template, error)
	UpdateTemplate(ctx context.Context, t *store.Template) error
	DeleteTemplate(ctx context.Context, id uuid.UUID) error

	CreateService(ctx context.Context, svc *store.Service) error
	ServiceByID(ctx context.Context, id uuid.UUID) (*store.Service, error)
	ListServices(ctx context.Context) ([]store.Service, error)
	UpdateService(ctx context.Context, svc *store.Service) error
	DeleteService(ctx context.Context, id uuid.UUID) error
	SetServiceRecipients(ctx context.Context, serviceID uuid.UUID, kind string, addressIDs, distributionIDs []uuid.UUID) error

	CreateRateLimit(ctx context.Context, rl *store.RateLimit) error
	RateLimitByID(ctx context.Context, id uuid.UUID) (*store.RateLimit, error)
	ListRateLimits(ctx context.Context) ([]store.RateLimit, error)
	UpdateRateLimit(ctx context.Context, rl *store.RateLimit) error
	DeleteRateLimit(ctx context.Context, id uuid.UUID) error

	MessageByID(ctx context.Context, id uuid.UUID) (*store.Message, error)
	ListMessages(ctx context.Context, serviceID uuid.UUID, limit int) ([]store.Message, error)
}

// MessageDispatcher is the send pipeline behind the public endpoint.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, svc *store.Service, req *dispatch.Request) (*dispatch.Receipt, error)
}

// Handler wires the API routes to storage and dispatch.
type Handler struct {
	store      Store
	dispatcher MessageDispatcher
	adminToken string
	log        *slog.Logger
	checks     health.Checks
}

// New creates a Handler. An empty adminToken disables the admin surface.
func New(st Store, d MessageDispatcher, adminToken string, checks health.Checks, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: st, dispatcher: d, adminToken: adminToken, log: log, checks: checks}
}

// Router builds the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", health.ReadinessHandler(h.checks, health.WithLogger(h.log)))
	r.Get("/health/live", health.LivenessHandler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/send_message", h.sendMessage)
		r.Post("/send_message/", h.sendMessage)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.requireAdmin)

			r.Route("/addresses", func(r chi.Router) {
				r.Get("/", h.listAddresses)
				r.Post("/", h.createAddress)
				r.Get("/{id}", h.getAddress)
				r.Put("/{id}", h.updateAddress)
				r.Delete("/{id}", h.deleteAddress)
			})

			r.Post("/unsubscriptions", h.createUnsubscription)

			r.Route("/distributions", func(r chi.Router) {
				r.Get("/", h.listDistributions)
				r.Post("/", h.createDistribution)
				r.Get("/{id}", h.getDistribution)
				r.Put("/{id}", h.updateDistribution)
				r.Delete("/{id}", h.deleteDistribution)
			})

			r.Route("/templates", func(r chi.Router) {
				r.Get("/", h.listTemplates)
				r.Post("/", h.createTemplate)
				r.Get("/{id}", h.getTemplate)
				r.Put("/{id}", h.updateTemplate)
				r.Delete("/{id}", h.deleteTemplate)
			})

			r.Route("/services", func(r chi.Router) {
				r.Get("/", h.listServices)
				r.Post("/", h.createService)
				r.Get("/{id}", h.getService)
				r.Put("/{id}", h.updateService)
				r.Delete("/{id}", h.deleteService)
				r.Put("/{id}/recipients/{kind}", h.setServiceRecipients)
			})

			r.Route("/rate_limits", func(r chi.Router) {
				r.Get("/", h.listRateLimits)
				r.Post("/", h.createRateLimit)
				r.Get("/{id}", h.getRateLimit)
				r.Put("/{id}", h.updateRateLimit)
				r.Delete("/{id}", h.deleteRateLimit)
			})

			r.Route("/messages", func(r chi.Router) {
				r.Get("/", h.listMessages)
				r.Get("/{id}", h.getMessage)
			})
		})
	})

	return r
}
