package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hackgods/clinic-assistant/internal/config"
	"github.com/hackgods/clinic-assistant/pkg/logging"
)

// Google talks to Google Calendar v3 with a service account.
type Google struct {
	svc     *gcal.Service
	timeout time.Duration
	logger  *logging.Logger
}

var _ Adapter = (*Google)(nil)

// NewGoogle builds the adapter from client options (credentials, endpoint).
func NewGoogle(ctx context.Context, timeout time.Duration, logger *logging.Logger, opts ...option.ClientOption) (*Google, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts = append([]option.ClientOption{option.WithScopes(gcal.CalendarScope)}, opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return &Google{svc: svc, timeout: timeout, logger: logger}, nil
}

// FromConfig returns a Google adapter when credentials and a calendar id are
// configured, and Disabled otherwise.
func FromConfig(ctx context.Context, cfg config.Config, logger *logging.Logger) (Adapter, error) {
	if !cfg.CalendarEnabled() {
		return Disabled{}, nil
	}
	var creds option.ClientOption
	if strings.TrimSpace(cfg.GoogleCredentialsJSON) != "" {
		creds = option.WithCredentialsJSON([]byte(cfg.GoogleCredentialsJSON))
	} else {
		creds = option.WithCredentialsFile(cfg.GoogleCredentialsFile)
	}
	return NewGoogle(ctx, cfg.CalendarTimeout, logger, creds)
}

func (g *Google) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]Event, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.svc.Events.List(calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: list events: %w", err)
	}

	out := make([]Event, 0, len(res.Items))
	for _, item := range res.Items {
		out = append(out, fromGoogle(item))
	}
	return out, nil
}

func (g *Google) CreateEvent(ctx context.Context, calendarID string, in EventInput) (*Event, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ev := &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       toDateTime(in.Start),
		End:         toDateTime(in.End),
	}
	if len(in.Metadata) > 0 {
		ev.ExtendedProperties = &gcal.EventExtendedProperties{Private: in.Metadata}
	}

	created, err := g.svc.Events.Insert(calendarID, ev).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: insert event: %w", err)
	}
	out := fromGoogle(created)
	return &out, nil
}

func (g *Google) UpdateEvent(ctx context.Context, calendarID, eventID string, patch EventPatch) (*Event, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ev := &gcal.Event{}
	if patch.Summary != nil {
		ev.Summary = *patch.Summary
	}
	if patch.Start != nil {
		ev.Start = toDateTime(*patch.Start)
	}
	if patch.End != nil {
		ev.End = toDateTime(*patch.End)
	}

	updated, err := g.svc.Events.Patch(calendarID, eventID, ev).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: patch event %s: %w", eventID, err)
	}
	out := fromGoogle(updated)
	return &out, nil
}

// DeleteEvent treats an event that is already gone as deleted.
func (g *Google) DeleteEvent(ctx context.Context, calendarID, eventID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := g.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return true, nil
		}
		return false, fmt.Errorf("calendar: delete event %s: %w", eventID, err)
	}
	return true, nil
}

func (g *Google) IsBusy(ctx context.Context, calendarID string, start, end time.Time) (bool, error) {
	windows, err := g.BusyPeriods(ctx, calendarID, start, end)
	if err != nil {
		return false, err
	}
	return len(windows) > 0, nil
}

func (g *Google) BusyPeriods(ctx context.Context, calendarID string, from, to time.Time) ([]Window, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: freebusy: %w", err)
	}

	cal, ok := res.Calendars[calendarID]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("calendar: freebusy %s: %s", calendarID, cal.Errors[0].Reason)
	}

	out := make([]Window, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		start, err1 := time.Parse(time.RFC3339, p.Start)
		end, err2 := time.Parse(time.RFC3339, p.End)
		if err1 != nil || err2 != nil {
			g.logger.Warn("calendar: skipping unparseable busy period", "start", p.Start, "end", p.End)
			continue
		}
		out = append(out, Window{Start: start, End: end})
	}
	return out, nil
}

func toDateTime(t time.Time) *gcal.EventDateTime {
	dt := &gcal.EventDateTime{DateTime: t.Format(time.RFC3339)}
	if name := t.Location().String(); name != "Local" && name != "" {
		dt.TimeZone = name
	}
	return dt
}

func fromGoogle(ev *gcal.Event) Event {
	out := Event{ID: ev.Id, Summary: ev.Summary, Description: ev.Description}
	if ev.Start != nil {
		out.Start = parseDateTime(ev.Start)
	}
	if ev.End != nil {
		out.End = parseDateTime(ev.End)
	}
	if ev.ExtendedProperties != nil && len(ev.ExtendedProperties.Private) > 0 {
		out.Metadata = ev.ExtendedProperties.Private
	}
	return out
}

func parseDateTime(dt *gcal.EventDateTime) time.Time {
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse("2006-01-02", dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}
