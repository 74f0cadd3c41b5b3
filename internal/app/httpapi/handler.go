// Package httpapi exposes the marketplace over JSON/HTTP.
package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	app "github.com/servimap/servimap/internal/app"
	"github.com/servimap/servimap/internal/app/domain/user"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/internal/geo"
	"github.com/servimap/servimap/internal/httputil"
	"github.com/servimap/servimap/internal/middleware"
	"github.com/servimap/servimap/pkg/logger"
)

// WebhookPath receives payment gateway callbacks. It is authenticated by
// signature, not by JWT.
const WebhookPath = "/webhooks/payments"

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "X-Servimap-Signature"

// Options configures the public API surface.
type Options struct {
	SigningKey []byte
	// CORS also decides which browser origins may open the live feed.
	CORS           middleware.CORSOptions
	RateLimitRPS   float64
	RateLimitBurst int
	// Limiter overrides RateLimitRPS and RateLimitBurst so the caller can
	// run its idle cleanup.
	Limiter *middleware.RateLimiter
	// AuditFile, when set, receives admin actions as JSON lines.
	AuditFile string
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app      *app.Application
	log      *logger.Logger
	audit    *auditLog
	upgrader websocket.Upgrader
}

// NewHandler returns the API router wrapped in tracing and CORS.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) (http.Handler, error) {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	sink, err := newFileAuditSink(opts.AuditFile)
	if err != nil {
		return nil, err
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 20
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 40
	}

	cors := middleware.NewCORSMiddleware(opts.CORS)
	h := &handler{
		app:   application,
		log:   log,
		audit: newAuditLog(500, sink),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cors),
		},
	}

	auth := middleware.NewAuthMiddleware(opts.SigningKey, log.Named("auth"), nil)
	limiter := opts.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, log.Named("ratelimit"))
	}

	root := mux.NewRouter()
	root.Use(middleware.MetricsMiddleware)
	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, apperrors.NewNotFoundError("route", r.URL.Path))
	})
	root.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorBody{Error: &apperrors.ServiceError{
			Code:    "method_not_allowed",
			Message: r.Method + " not allowed on " + r.URL.Path,
		}})
	})

	root.HandleFunc(WebhookPath, h.paymentWebhook).Methods(http.MethodPost)

	api := root.PathPrefix("/v1").Subrouter()
	api.Use(auth.Handler, limiter.Handler)
	h.routes(api)

	tracing := middleware.NewTracingMiddleware(log.Named("http"))
	return tracing.Handler(cors.Handler(root)), nil
}

func (h *handler) routes(api *mux.Router) {
	customer := middleware.RequireRole(user.RoleCustomer)
	providerOnly := middleware.RequireRole(user.RoleProvider)
	admin := middleware.RequireRole(user.RoleAdmin)

	api.HandleFunc("/catalog/categories", h.listCategories).Methods(http.MethodGet)

	api.HandleFunc("/users/me", h.getMe).Methods(http.MethodGet)
	api.HandleFunc("/users/me", h.putMe).Methods(http.MethodPut)

	api.HandleFunc("/providers", h.registerProvider).Methods(http.MethodPost)
	api.HandleFunc("/providers", h.listProviders).Methods(http.MethodGet)
	api.HandleFunc("/providers/{id}", h.getProvider).Methods(http.MethodGet)
	api.HandleFunc("/providers/{id}", h.patchProvider).Methods(http.MethodPatch)
	api.HandleFunc("/providers/{id}/emergency", h.getEmergencyConfig).Methods(http.MethodGet)
	api.HandleFunc("/providers/{id}/emergency", h.putEmergencyConfig).Methods(http.MethodPut)
	api.HandleFunc("/providers/{id}/availability", h.getAvailability).Methods(http.MethodGet)
	api.HandleFunc("/providers/{id}/availability", h.putAvailability).Methods(http.MethodPut)
	api.HandleFunc("/providers/{id}/reviews", h.listReviews).Methods(http.MethodGet)

	api.HandleFunc("/emergency/matches", h.emergencyMatches).Methods(http.MethodGet)
	api.Handle("/emergency/requests", customer(http.HandlerFunc(h.createEmergencyRequest))).Methods(http.MethodPost)

	api.Handle("/requests", customer(http.HandlerFunc(h.createRequest))).Methods(http.MethodPost)
	api.HandleFunc("/requests", h.listRequests).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}", h.getRequest).Methods(http.MethodGet)
	api.Handle("/requests/{id}/accept", providerOnly(http.HandlerFunc(h.acceptRequest))).Methods(http.MethodPost)
	api.Handle("/requests/{id}/reject", providerOnly(http.HandlerFunc(h.rejectRequest))).Methods(http.MethodPost)
	api.Handle("/requests/{id}/start", providerOnly(http.HandlerFunc(h.startRequest))).Methods(http.MethodPost)
	api.Handle("/requests/{id}/complete", providerOnly(http.HandlerFunc(h.completeRequest))).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/cancel", h.cancelRequest).Methods(http.MethodPost)
	api.Handle("/requests/{id}/rate", customer(http.HandlerFunc(h.rateRequest))).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/dispute", h.openDispute).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/transactions", h.requestTransactions).Methods(http.MethodGet)
	api.HandleFunc("/payments", h.listPayments).Methods(http.MethodGet)

	api.HandleFunc("/notifications", h.listNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/stream", h.streamNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{id}/read", h.markNotificationRead).Methods(http.MethodPost)

	api.HandleFunc("/reports", h.fileReport).Methods(http.MethodPost)

	adm := api.PathPrefix("/admin").Subrouter()
	adm.Use(admin, h.auditAdmin)
	adm.HandleFunc("/disputes", h.listDisputes).Methods(http.MethodGet)
	adm.HandleFunc("/disputes/{id}/resolve", h.resolveDispute).Methods(http.MethodPost)
	adm.HandleFunc("/reports", h.listReports).Methods(http.MethodGet)
	adm.HandleFunc("/reports/{id}/resolve", h.resolveReport).Methods(http.MethodPost)
	adm.HandleFunc("/providers/{id}/status", h.setProviderStatus).Methods(http.MethodPost)
	adm.HandleFunc("/requests/{id}/settle", h.settleRequest).Methods(http.MethodPost)
	adm.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)
}

func (h *handler) listCategories(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.app.Catalog.List())
}

// caller is the authenticated subject and role.
type caller struct {
	ID   string
	Role user.Role
}

func callerFrom(r *http.Request) caller {
	return caller{ID: logger.UserID(r.Context()), Role: user.Role(logger.Role(r.Context()))}
}

func (c caller) admin() bool { return c.Role == user.RoleAdmin }

// ownsOrAdmin allows the owner of resource id or an admin through.
func ownsOrAdmin(c caller, resource, id string) error {
	if c.admin() {
		return nil
	}
	return apperrors.EnsureOwnership(id, c.ID, resource, id)
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidationError(key, "must be an integer")
	}
	return v, nil
}

func queryFloat(r *http.Request, key string) (float64, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, apperrors.NewValidationError(key, "must be a number")
	}
	return v, true, nil
}

// queryPoint reads lat/lng. Both or neither must be present.
func queryPoint(r *http.Request) (geo.Point, bool, error) {
	lat, hasLat, err := queryFloat(r, "lat")
	if err != nil {
		return geo.Point{}, false, err
	}
	lng, hasLng, err := queryFloat(r, "lng")
	if err != nil {
		return geo.Point{}, false, err
	}
	if hasLat != hasLng {
		return geo.Point{}, false, apperrors.NewValidationError("lat", "lat and lng must be given together")
	}
	return geo.Point{Lat: lat, Lng: lng}, hasLat, nil
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	se := apperrors.FromError(err)
	if se.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	httputil.WriteError(w, se)
}

func originChecker(cors *middleware.CORSMiddleware) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || cors.OriginAllowed(origin) {
			return true
		}
		return strings.EqualFold(origin, "http://"+r.Host) || strings.EqualFold(origin, "https://"+r.Host)
	}
}

func notFound(resource, id string) error {
	return apperrors.NewNotFoundError(resource, id)
}
