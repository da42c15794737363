package classifier

import (
	"sort"
	"strings"
	"time"

	"shipment-dispatch-client/workers/shipments/models"
)

const dayLayout = "2006-01-02"

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dayLayout,
}

// Classifier sorts shipment snapshots into buckets using local calendar days.
// All comparisons are made on canonical YYYY-MM-DD strings in the classifier's
// location, so a date the server sends as an instant lands on the local day.
type Classifier struct {
	loc *time.Location
}

func New(loc *time.Location) *Classifier {
	if loc == nil {
		loc = time.Local
	}
	return &Classifier{loc: loc}
}

// Card is a shipment prepared for one bucket view.
type Card struct {
	Shipment models.Shipment
	Style    Style
}

// Today returns now's calendar day in the classifier's location.
func (c *Classifier) Today(now time.Time) string {
	return now.In(c.loc).Format(dayLayout)
}

// Day normalizes a server date to YYYY-MM-DD. Missing or unparseable values
// return "", which never equals a real day and sorts before all of them.
func (c *Classifier) Day(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	for _, layout := range dateLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339Nano {
			t, err = time.Parse(layout, raw)
		} else {
			t, err = time.ParseInLocation(layout, raw, c.loc)
		}
		if err == nil {
			return t.In(c.loc).Format(dayLayout)
		}
	}
	return ""
}

// Matches reports whether s belongs in bucket on the given day. A shipment may
// match several buckets, or none.
func (c *Classifier) Matches(bucket Bucket, s models.Shipment, today string) bool {
	if s.IsCompleted() {
		return bucket == BucketCompleted
	}

	loading := c.Day(s.LoadingDate)
	delivery := c.Day(s.DeliveryDate)

	switch bucket {
	case BucketDelayed:
		return before(delivery, today) ||
			(before(loading, today) && s.CurrentStatus != models.StatusLoaded)
	case BucketUpcoming:
		return loading > today && s.CurrentStatus == models.StatusPending
	case BucketActive:
		return delivery == today ||
			loading == today ||
			(s.CurrentStatus == models.StatusLoaded && delivery != "" && delivery >= today)
	default:
		return false
	}
}

// Style derives the card style from the status alone, ignoring buckets.
func (c *Classifier) Style(s models.Shipment, today string) Style {
	switch {
	case s.IsCompleted():
		return StyleCompleted
	case s.CurrentStatus == models.StatusStartRoute,
		s.CurrentStatus == models.StatusLoaded && c.Day(s.DeliveryDate) > today:
		return StyleInTransit
	case s.CurrentStatus == models.StatusPending:
		return StyleToLoad
	default:
		return StyleInProgress
	}
}

// StyleFor is Style with the red override applied inside the delayed view.
func (c *Classifier) StyleFor(bucket Bucket, s models.Shipment, today string) Style {
	if bucket == BucketDelayed {
		return StyleDelayed
	}
	return c.Style(s, today)
}

// View filters shipments into one bucket. Order is preserved except for the
// completed bucket, which lists the most recent deliveries first.
func (c *Classifier) View(bucket Bucket, shipments []models.Shipment, today string) []Card {
	cards := make([]Card, 0, len(shipments))
	for _, s := range shipments {
		if !c.Matches(bucket, s, today) {
			continue
		}
		cards = append(cards, Card{Shipment: s, Style: c.StyleFor(bucket, s, today)})
	}

	if bucket == BucketCompleted {
		sort.SliceStable(cards, func(i, j int) bool {
			return c.Day(cards[i].Shipment.DeliveryDate) > c.Day(cards[j].Shipment.DeliveryDate)
		})
	}
	return cards
}

// Counts returns the number of shipments matching each bucket.
func (c *Classifier) Counts(shipments []models.Shipment, today string) map[Bucket]int {
	counts := make(map[Bucket]int, len(Buckets))
	for _, b := range Buckets {
		counts[b] = 0
	}
	for _, s := range shipments {
		for _, b := range Buckets {
			if c.Matches(b, s, today) {
				counts[b]++
			}
		}
	}
	return counts
}

// before is a strict day comparison where a missing day never counts as past.
func before(day, today string) bool {
	return day != "" && day < today
}
