package scheduling

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/servimap/servimap/internal/app/domain/request"
	"github.com/servimap/servimap/internal/app/domain/schedule"
	"github.com/servimap/servimap/internal/app/storage"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/pkg/logger"
)

// MaxSlotDuration caps a single booking.
const MaxSlotDuration = 12 * time.Hour

// Service manages provider weekly availability and validates booking slots.
type Service struct {
	providers storage.ProviderStore
	requests  storage.RequestStore
	log       *logger.Logger
	now       func() time.Time
}

// New constructs the scheduling service.
func New(providers storage.ProviderStore, requests storage.RequestStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("scheduling")
	}
	return &Service{providers: providers, requests: requests, log: log, now: time.Now}
}

// GetAvailability returns a provider's weekly windows. A provider that never
// set any gets an empty record, meaning always available.
func (s *Service) GetAvailability(ctx context.Context, providerID string) (schedule.Availability, error) {
	if _, err := s.providers.GetProvider(ctx, providerID); err != nil {
		return schedule.Availability{}, err
	}
	a, err := s.providers.GetAvailability(ctx, providerID)
	if apperrors.IsNotFound(err) {
		return schedule.Availability{ProviderID: providerID, Timezone: "UTC", Windows: []schedule.Window{}}, nil
	}
	return a, err
}

// SetAvailability validates and replaces a provider's weekly windows.
func (s *Service) SetAvailability(ctx context.Context, providerID string, a schedule.Availability) (schedule.Availability, error) {
	if _, err := s.providers.GetProvider(ctx, providerID); err != nil {
		return schedule.Availability{}, err
	}
	a.ProviderID = providerID
	a.Timezone = strings.TrimSpace(a.Timezone)
	if a.Timezone == "" {
		a.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(a.Timezone); err != nil {
		return schedule.Availability{}, apperrors.NewValidationError("timezone", "unknown timezone "+a.Timezone)
	}
	windows, err := normalizeWindows(a.Windows)
	if err != nil {
		return schedule.Availability{}, err
	}
	a.Windows = windows
	a.UpdatedAt = s.now().UTC()

	saved, err := s.providers.SaveAvailability(ctx, a)
	if err != nil {
		return schedule.Availability{}, err
	}
	s.log.WithField("provider_id", providerID).
		WithField("windows", len(saved.Windows)).
		Info("availability updated")
	return saved, nil
}

func normalizeWindows(in []schedule.Window) ([]schedule.Window, error) {
	windows := append([]schedule.Window{}, in...)
	for i, w := range windows {
		field := fmt.Sprintf("windows[%d]", i)
		if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
			return nil, apperrors.NewValidationError(field, "weekday must be 0 (Sunday) to 6 (Saturday)")
		}
		if w.StartMinute < 0 || w.EndMinute > schedule.MinutesPerDay || w.StartMinute >= w.EndMinute {
			return nil, apperrors.NewValidationError(field, fmt.Sprintf("need 0 <= start < end <= %d", schedule.MinutesPerDay))
		}
	}
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].Weekday != windows[j].Weekday {
			return windows[i].Weekday < windows[j].Weekday
		}
		return windows[i].StartMinute < windows[j].StartMinute
	})
	for i := 1; i < len(windows); i++ {
		prev, cur := windows[i-1], windows[i]
		if prev.Weekday == cur.Weekday && prev.EndMinute > cur.StartMinute {
			return nil, apperrors.NewValidationError("windows", fmt.Sprintf("overlapping windows on %s", cur.Weekday))
		}
	}
	return windows, nil
}

// CheckSlot reports whether providerID can take a booking in [start, end).
func (s *Service) CheckSlot(ctx context.Context, providerID string, start, end time.Time) error {
	if err := s.checkWindow(ctx, s.providers.GetAvailability, providerID, start, end); err != nil {
		return err
	}
	booked, err := s.requests.ListRequests(ctx, storage.RequestFilter{
		ProviderID: providerID,
		Statuses:   []request.Status{request.StatusPending, request.StatusAccepted, request.StatusInProgress},
	})
	if err != nil {
		return err
	}
	return checkOverlap(booked, "", start, end)
}

// CheckSlotTx is CheckSlot against the bookings visible to tx, so a batch
// cannot double-book a provider. excludeID skips the request being moved.
func (s *Service) CheckSlotTx(ctx context.Context, tx storage.Tx, providerID, excludeID string, start, end time.Time) error {
	if err := s.checkWindow(ctx, tx.GetAvailability, providerID, start, end); err != nil {
		return err
	}
	booked, err := tx.ListActiveRequestsForProvider(ctx, providerID)
	if err != nil {
		return err
	}
	return checkOverlap(booked, excludeID, start, end)
}

type availabilityFunc func(ctx context.Context, providerID string) (schedule.Availability, error)

func (s *Service) checkWindow(ctx context.Context, availability availabilityFunc, providerID string, start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return apperrors.RequiredError("scheduled_start")
	}
	if !end.After(start) {
		return apperrors.NewValidationError("scheduled_end", "must be after scheduled_start")
	}
	if end.Sub(start) > MaxSlotDuration {
		return apperrors.NewValidationError("scheduled_end", fmt.Sprintf("bookings are limited to %s", MaxSlotDuration))
	}
	if !start.After(s.now()) {
		return apperrors.NewValidationError("scheduled_start", "must be in the future")
	}

	a, err := availability(ctx, providerID)
	if apperrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return fmt.Errorf("provider %s timezone: %w", providerID, err)
	}
	weekday, from, to, ok := localMinutes(start.In(loc), end.In(loc))
	if ok {
		for _, w := range a.Windows {
			if w.Weekday == weekday && w.Contains(from, to) {
				return nil
			}
		}
	}
	return apperrors.NewConflictError("provider", providerID, "slot is outside working hours")
}

// localMinutes converts a local interval to wall-clock minute offsets of its
// start day. An interval ending exactly at the next midnight ends at 1440.
func localMinutes(start, end time.Time) (time.Weekday, int, int, bool) {
	from := start.Hour()*60 + start.Minute()
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	var to int
	switch {
	case sy == ey && sm == em && sd == ed:
		to = end.Hour()*60 + end.Minute()
		if end.Second() > 0 || end.Nanosecond() > 0 {
			to++
		}
	case end.Equal(time.Date(sy, sm, sd+1, 0, 0, 0, 0, start.Location())):
		to = schedule.MinutesPerDay
	default:
		return 0, 0, 0, false
	}
	return start.Weekday(), from, to, true
}

func checkOverlap(booked []request.Request, excludeID string, start, end time.Time) error {
	for _, b := range booked {
		if b.ID == excludeID || b.ScheduledStart.IsZero() || b.ScheduledEnd.IsZero() {
			continue
		}
		if start.Before(b.ScheduledEnd) && b.ScheduledStart.Before(end) {
			return apperrors.NewConflictError("request", b.ID, "provider already booked for this slot")
		}
	}
	return nil
}
