// Package icalcodec implements application.ICalCodec against go-ical,
// translating between RFC 5545 VEVENTs and the core's EventFields shape so
// the application and domain packages never import an iCalendar parser
// directly.
package icalcodec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/kashcal/synccore/internal/calendar/application"
	"github.com/kashcal/synccore/internal/calendar/domain"
)

const (
	icalDateLayout  = "20060102"
	icalUTCLayout   = "20060102T150405Z"
	icalLocalLayout = "20060102T150405"

	propColor = "COLOR"
	compAlarm = "VALARM"
	propTrigger = "TRIGGER"
)

// Codec is the concrete application.ICalCodec.
type Codec struct{}

// NewCodec builds a Codec. It is stateless and safe for concurrent use.
func NewCodec() *Codec {
	return &Codec{}
}

// Decode parses one calendar-object resource body (one UID, a master plus
// any exceptions) into a ParsedResource.
func (c *Codec) Decode(body string) (application.ParsedResource, error) {
	cal, err := decodeCalendar(body)
	if err != nil {
		return application.ParsedResource{}, err
	}
	comps, err := parseVEVENTs(cal)
	if err != nil {
		return application.ParsedResource{}, err
	}
	return groupSingle(comps)
}

// DecodeFeed parses a whole ICS feed into one ParsedResource per UID.
func (c *Codec) DecodeFeed(body string) ([]application.ParsedResource, error) {
	cal, err := decodeCalendar(body)
	if err != nil {
		return nil, err
	}
	comps, err := parseVEVENTs(cal)
	if err != nil {
		return nil, err
	}
	return groupByUID(comps), nil
}

// Encode serializes a master event plus its exceptions into one iCalendar
// resource body.
func (c *Codec) Encode(master *domain.Event, exceptions []*domain.Event) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//kashcal//synccore//EN")

	masterEv, err := encodeVEVENT(master)
	if err != nil {
		return "", fmt.Errorf("encode master %s: %w", master.UID(), err)
	}
	cal.Children = append(cal.Children, masterEv.Component)

	for _, ex := range exceptions {
		exEv, err := encodeVEVENT(ex)
		if err != nil {
			return "", fmt.Errorf("encode exception %s: %w", ex.UID(), err)
		}
		cal.Children = append(cal.Children, exEv.Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("encode icalendar: %w", err)
	}
	return buf.String(), nil
}

func decodeCalendar(body string) (*ical.Calendar, error) {
	cal, err := ical.NewDecoder(strings.NewReader(body)).Decode()
	if err != nil {
		return nil, fmt.Errorf("decode icalendar: %w", err)
	}
	return cal, nil
}

func parseVEVENTs(cal *ical.Calendar) ([]application.ParsedComponent, error) {
	var out []application.ParsedComponent
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		pc, err := parseVEVENT(child)
		if err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no VEVENT components found")
	}
	return out, nil
}

func parseVEVENT(comp *ical.Component) (application.ParsedComponent, error) {
	uid, ok := optText(comp, ical.PropUID)
	if !ok {
		return application.ParsedComponent{}, fmt.Errorf("VEVENT missing UID")
	}

	var fields domain.EventFields

	if v, ok := optText(comp, ical.PropSummary); ok {
		fields.Title = &v
	}
	if v, ok := optText(comp, ical.PropLocation); ok {
		fields.Location = &v
	}
	if v, ok := optText(comp, ical.PropDescription); ok {
		fields.Description = &v
	}

	allDay := false
	if p := comp.Props.Get(ical.PropDateTimeStart); p != nil {
		t, ad, err := parseICalTime(p.Value)
		if err != nil {
			return application.ParsedComponent{}, fmt.Errorf("parse DTSTART: %w", err)
		}
		allDay = ad
		ms := t.UnixMilli()
		fields.StartTs = &ms
		if tzid := p.Params.Get("TZID"); tzid != "" {
			fields.Timezone = &tzid
		}
	}
	fields.AllDay = &allDay
	if p := comp.Props.Get(ical.PropDateTimeEnd); p != nil {
		t, _, err := parseICalTime(p.Value)
		if err != nil {
			return application.ParsedComponent{}, fmt.Errorf("parse DTEND: %w", err)
		}
		ms := t.UnixMilli()
		fields.EndTs = &ms
	}

	if v, ok := optText(comp, ical.PropStatus); ok {
		s := domain.EventStatus(v)
		fields.Status = &s
	}
	if v, ok := optText(comp, ical.PropTransparency); ok {
		tr := domain.Transparency(v)
		fields.Transparency = &tr
	}
	if v, ok := optText(comp, ical.PropClass); ok {
		cl := domain.Classification(v)
		fields.Classification = &cl
	}
	if v, ok := optText(comp, ical.PropOrganizer); ok {
		fields.Organizer = &v
	}
	if v, ok := optText(comp, ical.PropRecurrenceRule); ok {
		fields.RRule = &v
	}

	for _, p := range comp.Props[ical.PropRecurrenceDates] {
		if t, _, err := parseICalTime(p.Value); err == nil {
			fields.RDate = append(fields.RDate, t)
		}
	}
	for _, p := range comp.Props[ical.PropExceptionDates] {
		if t, _, err := parseICalTime(p.Value); err == nil {
			fields.EXDate = append(fields.EXDate, t)
		}
	}

	if v, ok := optText(comp, ical.PropCategories); ok && v != "" {
		fields.Categories = strings.Split(v, ",")
	}
	if v, ok := optText(comp, ical.PropPriority); ok {
		if n, err := strconv.Atoi(v); err == nil {
			fields.Priority = &n
		}
	}
	if v, ok := optText(comp, ical.PropURL); ok {
		fields.URL = &v
	}
	if v, ok := optText(comp, propColor); ok {
		fields.Color = &v
	}
	if v, ok := optText(comp, ical.PropGeo); ok {
		if geo, err := parseGeo(v); err == nil {
			fields.Geo = geo
		}
	}

	var reminders []string
	for _, child := range comp.Children {
		if child.Name != compAlarm {
			continue
		}
		if v, ok := optText(child, propTrigger); ok {
			reminders = append(reminders, v)
		}
	}
	fields.Reminders = reminders

	extra := make(map[string]string)
	for name, props := range comp.Props {
		if !strings.HasPrefix(name, "X-") || len(props) == 0 {
			continue
		}
		extra[name] = props[0].Value
	}
	if len(extra) > 0 {
		fields.Extra = extra
	}

	var dtstamp time.Time
	if p := comp.Props.Get(ical.PropDateTimeStamp); p != nil {
		if t, _, err := parseICalTime(p.Value); err == nil {
			dtstamp = t
		}
	}

	var originalInstanceTime *time.Time
	cancelled := false
	if p := comp.Props.Get(ical.PropRecurrenceID); p != nil {
		if t, _, err := parseICalTime(p.Value); err == nil {
			originalInstanceTime = &t
		}
		if status, ok := optText(comp, ical.PropStatus); ok &&
			strings.EqualFold(status, string(domain.EventStatusCancelled)) {
			cancelled = true
		}
	}

	return application.ParsedComponent{
		UID:                  uid,
		OriginalInstanceTime: originalInstanceTime,
		IsCancelledException: cancelled,
		Fields:               fields,
		DTStamp:              dtstamp,
	}, nil
}

func encodeVEVENT(e *domain.Event) (*ical.Event, error) {
	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, e.UID())
	ev.Props.SetText(ical.PropDateTimeStamp, formatICalTime(e.DTStamp(), false))
	ev.Props.SetText(ical.PropDateTimeStart, formatICalTime(msToTime(e.StartTs()), e.AllDay()))
	ev.Props.SetText(ical.PropDateTimeEnd, formatICalTime(msToTime(e.EndTs()), e.AllDay()))
	ev.Props.SetText(ical.PropSummary, e.Title())
	ev.Props.SetText(ical.PropSequence, strconv.Itoa(e.Sequence()))

	if e.Description() != "" {
		ev.Props.SetText(ical.PropDescription, e.Description())
	}
	if e.Location() != "" {
		ev.Props.SetText(ical.PropLocation, e.Location())
	}
	if e.Status() != "" {
		ev.Props.SetText(ical.PropStatus, string(e.Status()))
	}
	if e.Transparency() != "" {
		ev.Props.SetText(ical.PropTransparency, string(e.Transparency()))
	}
	if e.Classification() != "" {
		ev.Props.SetText(ical.PropClass, string(e.Classification()))
	}
	if e.Organizer() != "" {
		ev.Props.SetText(ical.PropOrganizer, e.Organizer())
	}

	if e.IsMaster() {
		if e.RRule() != "" {
			ev.Props.SetText(ical.PropRecurrenceRule, e.RRule())
		}
		for _, rd := range e.RDate() {
			ev.Props[ical.PropRecurrenceDates] = append(ev.Props[ical.PropRecurrenceDates],
				ical.Prop{Name: ical.PropRecurrenceDates, Value: formatICalTime(rd, e.AllDay())})
		}
		for _, xd := range e.EXDate() {
			ev.Props[ical.PropExceptionDates] = append(ev.Props[ical.PropExceptionDates],
				ical.Prop{Name: ical.PropExceptionDates, Value: formatICalTime(xd, e.AllDay())})
		}
	} else if e.OriginalInstanceTime() != nil {
		ev.Props.SetText(ical.PropRecurrenceID, formatICalTime(*e.OriginalInstanceTime(), e.AllDay()))
	}

	if len(e.Categories()) > 0 {
		ev.Props.SetText(ical.PropCategories, strings.Join(e.Categories(), ","))
	}
	if e.Priority() != 0 {
		ev.Props.SetText(ical.PropPriority, strconv.Itoa(e.Priority()))
	}
	if e.URL() != "" {
		ev.Props.SetText(ical.PropURL, e.URL())
	}
	if e.Color() != "" {
		ev.Props.SetText(propColor, e.Color())
	}
	if geo := e.Geo(); geo != nil {
		ev.Props.SetText(ical.PropGeo, fmt.Sprintf("%f;%f", geo.Lat, geo.Lon))
	}

	for k, v := range e.ExtraProperties() {
		ev.Props.SetText(k, v)
	}

	for _, trigger := range e.Reminders() {
		alarm := ical.NewComponent(compAlarm)
		alarm.Props.SetText("ACTION", "DISPLAY")
		alarm.Props.SetText(propTrigger, trigger)
		alarm.Props.SetText(ical.PropDescription, e.Title())
		ev.Children = append(ev.Children, alarm)
	}

	return ev, nil
}

func groupSingle(comps []application.ParsedComponent) (application.ParsedResource, error) {
	var res application.ParsedResource
	haveMaster := false
	for _, c := range comps {
		if c.OriginalInstanceTime == nil {
			if haveMaster {
				continue
			}
			res.Master = c
			haveMaster = true
			continue
		}
		res.Exceptions = append(res.Exceptions, c)
	}
	if !haveMaster {
		return application.ParsedResource{}, fmt.Errorf("resource has no master VEVENT")
	}
	return res, nil
}

func groupByUID(comps []application.ParsedComponent) []application.ParsedResource {
	order := make([]string, 0, len(comps))
	byUID := make(map[string]*application.ParsedResource, len(comps))
	for _, c := range comps {
		r, ok := byUID[c.UID]
		if !ok {
			r = &application.ParsedResource{}
			byUID[c.UID] = r
			order = append(order, c.UID)
		}
		if c.OriginalInstanceTime == nil {
			r.Master = c
		} else {
			r.Exceptions = append(r.Exceptions, c)
		}
	}

	out := make([]application.ParsedResource, 0, len(order))
	for _, uid := range order {
		out = append(out, *byUID[uid])
	}
	return out
}

func optText(comp *ical.Component, name string) (string, bool) {
	p := comp.Props.Get(name)
	if p == nil {
		return "", false
	}
	return p.Value, true
}

func parseICalTime(value string) (time.Time, bool, error) {
	switch {
	case len(value) == len(icalDateLayout):
		t, err := time.ParseInLocation(icalDateLayout, value, time.UTC)
		return t, true, err
	case strings.HasSuffix(value, "Z"):
		t, err := time.Parse(icalUTCLayout, value)
		return t, false, err
	default:
		t, err := time.ParseInLocation(icalLocalLayout, value, time.UTC)
		return t, false, err
	}
}

func formatICalTime(t time.Time, allDay bool) string {
	if allDay {
		return t.UTC().Format(icalDateLayout)
	}
	return t.UTC().Format(icalUTCLayout)
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func parseGeo(value string) (*domain.GeoPoint, error) {
	parts := strings.SplitN(value, ";", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed GEO value %q", value)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, err
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, err
	}
	return &domain.GeoPoint{Lat: lat, Lon: lon}, nil
}
