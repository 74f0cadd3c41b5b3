package httpapi

import (
	"net/http"
	"strings"

	"github.com/servimap/servimap/internal/app/domain/emergency"
	"github.com/servimap/servimap/internal/app/domain/provider"
	"github.com/servimap/servimap/internal/app/domain/schedule"
	"github.com/servimap/servimap/internal/app/domain/user"
	"github.com/servimap/servimap/internal/app/services/providers"
	"github.com/servimap/servimap/internal/geo"
	"github.com/servimap/servimap/internal/httputil"
)

type profilePayload struct {
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Location    geo.Point `json:"location"`
}

func (h *handler) getMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Users.Get(r.Context(), callerFrom(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *handler) putMe(w http.ResponseWriter, r *http.Request) {
	var payload profilePayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	c := callerFrom(r)
	role := c.Role
	if role == user.RoleAdmin {
		// Admin accounts are provisioned out of band; the profile keeps
		// whatever role is on record.
		role = ""
	}
	u, err := h.app.Users.Upsert(r.Context(), user.User{
		ID:          c.ID,
		Role:        role,
		DisplayName: payload.DisplayName,
		Email:       payload.Email,
		Phone:       payload.Phone,
		Location:    payload.Location,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

type providerPayload struct {
	BusinessName    string    `json:"business_name"`
	Description     string    `json:"description"`
	Categories      []string  `json:"categories"`
	Location        geo.Point `json:"location"`
	ServiceRadiusKm float64   `json:"service_radius_km"`
	HourlyRateCents int64     `json:"hourly_rate_cents"`
	Currency        string    `json:"currency"`
}

func (h *handler) registerProvider(w http.ResponseWriter, r *http.Request) {
	var payload providerPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.app.Providers.Register(r.Context(), callerFrom(r).ID, provider.Provider{
		BusinessName:    payload.BusinessName,
		Description:     payload.Description,
		Categories:      payload.Categories,
		Location:        payload.Location,
		ServiceRadiusKm: payload.ServiceRadiusKm,
		HourlyRateCents: payload.HourlyRateCents,
		Currency:        payload.Currency,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

// listProviders searches by location when lat/lng are given. Without a
// location it lists approved providers; admins may filter by any status.
func (h *handler) listProviders(w http.ResponseWriter, r *http.Request) {
	point, located, err := queryPoint(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	category := strings.TrimSpace(r.URL.Query().Get("category"))

	if located {
		radius, _, err := queryFloat(r, "radius_km")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		matches, err := h.app.Providers.Search(r.Context(), providers.Query{
			Category: category,
			Point:    point,
			RadiusKm: radius,
			Limit:    limit,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, matches)
		return
	}

	status := provider.StatusApproved
	if c := callerFrom(r); c.admin() {
		status = provider.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	}
	list, err := h.app.Providers.List(r.Context(), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if category != "" {
		filtered := list[:0]
		for _, p := range list {
			if p.Serves(category) {
				filtered = append(filtered, p)
			}
		}
		list = filtered
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) getProvider(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Providers.Get(r.Context(), pathID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c := callerFrom(r)
	if p.Status != provider.StatusApproved && c.ID != p.ID && !c.admin() {
		h.fail(w, r, notFound("provider", p.ID))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) patchProvider(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := ownsOrAdmin(callerFrom(r), "provider", id); err != nil {
		h.fail(w, r, err)
		return
	}
	var patch providers.Patch
	if err := httputil.DecodeJSON(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.app.Providers.Update(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) getEmergencyConfig(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := ownsOrAdmin(callerFrom(r), "provider", id); err != nil {
		h.fail(w, r, err)
		return
	}
	cfg, err := h.app.Emergency.GetConfig(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

type emergencyPayload struct {
	Enabled             bool `json:"enabled"`
	Available           bool `json:"available"`
	SurchargePercent    int  `json:"surcharge_percent"`
	ResponseTimeMinutes int  `json:"response_time_minutes"`
}

func (h *handler) putEmergencyConfig(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := ownsOrAdmin(callerFrom(r), "provider", id); err != nil {
		h.fail(w, r, err)
		return
	}
	var payload emergencyPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	cfg, err := h.app.Emergency.UpdateConfig(r.Context(), id, emergency.Config{
		Enabled:             payload.Enabled,
		Available:           payload.Available,
		SurchargePercent:    payload.SurchargePercent,
		ResponseTimeMinutes: payload.ResponseTimeMinutes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

func (h *handler) getAvailability(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Scheduling.GetAvailability(r.Context(), pathID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

type availabilityPayload struct {
	Timezone string            `json:"timezone"`
	Windows  []schedule.Window `json:"windows"`
}

func (h *handler) putAvailability(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := ownsOrAdmin(callerFrom(r), "provider", id); err != nil {
		h.fail(w, r, err)
		return
	}
	var payload availabilityPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.app.Scheduling.SetAvailability(r.Context(), id, schedule.Availability{
		Timezone: payload.Timezone,
		Windows:  payload.Windows,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *handler) listReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.app.Moderation.ListReviews(r.Context(), pathID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reviews)
}
