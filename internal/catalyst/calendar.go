// Package catalyst tracks upcoming high-impact calendar events and
// materializes the time-bounded safety suspensions they imply. The registry
// itself holds plain event data; suspensions are derived views evaluated
// against the caller's clock, so expiry needs no background timer.
package catalyst

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tradekernel/internal/domain"
)

// Impact is the expected market impact of a calendar event.
type Impact string

const (
	ImpactHigh   Impact = "high"   // halts all new trading around the event
	ImpactMedium Impact = "medium" // blocks new symbols around the event
	ImpactLow    Impact = "low"    // reduces position sizes around the event
)

// action maps impact onto the suspension action it triggers.
func (i Impact) action() (domain.SuspensionAction, bool) {
	switch i {
	case ImpactHigh:
		return domain.ActionHaltAll, true
	case ImpactMedium:
		return domain.ActionBlockNew, true
	case ImpactLow:
		return domain.ActionReduceSize, true
	}
	return "", false
}

// Event is one scheduled market event from the calendar collaborator.
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Impact    Impact    `json:"impact"`
	EventTime time.Time `json:"event_time"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Config sets how far around an event its suspension extends.
type Config struct {
	// Lead is how long before the event the suspension activates; Trail is
	// how long after the event it lingers.
	Lead  time.Duration `yaml:"lead"`
	Trail time.Duration `yaml:"trail"`

	// MaxLookAhead drops events too far out to matter; Prune removes events
	// whose suspension window has fully passed.
	MaxLookAhead time.Duration `yaml:"max_look_ahead"`
}

// DefaultConfig returns the calendar defaults.
func DefaultConfig() Config {
	return Config{
		Lead:         30 * time.Minute,
		Trail:        30 * time.Minute,
		MaxLookAhead: 14 * 24 * time.Hour,
	}
}

// Calendar is the event registry. Safe for concurrent use.
type Calendar struct {
	cfg Config

	mu     sync.RWMutex
	events map[string]Event
}

// NewCalendar creates an empty calendar.
func NewCalendar(cfg Config) *Calendar {
	return &Calendar{cfg: cfg, events: make(map[string]Event)}
}

// Upsert adds or replaces an event by ID.
func (c *Calendar) Upsert(event Event) error {
	if err := c.validate(event); err != nil {
		return fmt.Errorf("invalid calendar event: %w", err)
	}
	event.UpdatedAt = time.Now().UTC()

	c.mu.Lock()
	c.events[event.ID] = event
	c.mu.Unlock()

	log.Debug().
		Str("event_id", event.ID).
		Str("title", event.Title).
		Str("impact", string(event.Impact)).
		Time("event_time", event.EventTime).
		Msg("Calendar event upserted")
	return nil
}

// Remove deletes an event; unknown IDs are a no-op.
func (c *Calendar) Remove(id string) {
	c.mu.Lock()
	delete(c.events, id)
	c.mu.Unlock()
}

// ActiveSuspensions derives the suspensions in force at now, ordered by
// activation time for determinism. Expired windows produce nothing.
func (c *Calendar) ActiveSuspensions(now time.Time) []domain.SafetySuspension {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.SafetySuspension
	for _, event := range c.events {
		s, ok := c.suspensionFor(event)
		if !ok || !s.ActiveAt(now) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActivatedAt.Equal(out[j].ActivatedAt) {
			return out[i].RuleName < out[j].RuleName
		}
		return out[i].ActivatedAt.Before(out[j].ActivatedAt)
	})
	return out
}

// Prune drops events whose suspension window ended before now and events
// beyond the look-ahead horizon. Returns how many were removed.
func (c *Calendar) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, event := range c.events {
		past := event.EventTime.Add(c.cfg.Trail).Before(now)
		tooFar := c.cfg.MaxLookAhead > 0 && event.EventTime.After(now.Add(c.cfg.MaxLookAhead))
		if past || tooFar {
			delete(c.events, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Calendar pruned")
	}
	return removed
}

// Len reports the number of registered events.
func (c *Calendar) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

func (c *Calendar) suspensionFor(event Event) (domain.SafetySuspension, bool) {
	action, ok := event.Impact.action()
	if !ok {
		return domain.SafetySuspension{}, false
	}
	return domain.SafetySuspension{
		RuleName:        fmt.Sprintf("calendar:%s", event.ID),
		TriggeringEvent: event.Title,
		Action:          action,
		ActivatedAt:     event.EventTime.Add(-c.cfg.Lead),
		ExpiresAt:       event.EventTime.Add(c.cfg.Trail),
	}, true
}

func (c *Calendar) validate(event Event) error {
	if event.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if event.Title == "" {
		return fmt.Errorf("event title is required")
	}
	if _, ok := event.Impact.action(); !ok {
		return fmt.Errorf("unknown impact %q", event.Impact)
	}
	if event.EventTime.IsZero() {
		return fmt.Errorf("event time is required")
	}
	return nil
}
