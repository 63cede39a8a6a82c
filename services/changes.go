package services

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"listingwatch/models"
)

// significantPriceChange is the absolute percentage from which a price move
// is described as significant.
const significantPriceChange = 10.0

// Detection is the outcome of comparing one observation with the previous
// snapshot. Listing is the observation with derived fields (CreatedAt,
// DaysOnMarket) settled and is what should be persisted.
type Detection struct {
	Changes []*models.ChangeEvent
	IsNew   bool
	Listing *models.Listing
}

// Detector diffs listings. It never touches storage.
type Detector struct {
	now   func() time.Time
	newID func() string
}

func NewDetector() *Detector {
	return &Detector{now: time.Now, newID: uuid.NewString}
}

// WithClock replaces the clock used for change dates and days on market.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Detect compares current against previous. A nil previous marks the listing
// as new with no changes.
func (d *Detector) Detect(previous, current *models.Listing) Detection {
	now := d.now()
	out := current.Clone()

	if previous == nil {
		if out.Status == models.StatusActive {
			out.DaysOnMarket = models.WholeDaysSince(out.CreatedAt, now)
		}
		return Detection{IsNew: true, Changes: []*models.ChangeEvent{}, Listing: out}
	}

	if !previous.CreatedAt.IsZero() {
		out.CreatedAt = previous.CreatedAt
	}
	if out.Status == models.StatusActive {
		out.DaysOnMarket = models.WholeDaysSince(out.CreatedAt, now)
	} else {
		out.DaysOnMarket = previous.DaysOnMarket
	}

	changes := make([]*models.ChangeEvent, 0, 4)
	add := func(t models.ChangeType, oldV, newV, desc string) {
		changes = append(changes, &models.ChangeEvent{
			ID:           d.newID(),
			ListingID:    current.ID,
			ListingTitle: current.Title,
			ChangeType:   t,
			OldValue:     oldV,
			NewValue:     newV,
			ChangeDate:   now,
			Description:  desc,
		})
	}

	if previous.Price != current.Price {
		add(models.ChangePrice,
			strconv.FormatInt(previous.Price, 10),
			strconv.FormatInt(current.Price, 10),
			describePriceChange(previous.Price, current.Price))
	}

	if previous.Status != current.Status {
		add(models.ChangeStatus,
			string(previous.Status),
			string(current.Status),
			describeStatusChange(previous.Status, current.Status))
	}

	if previous.Description != "" && current.Description != "" && previous.Description != current.Description {
		add(models.ChangeDescription, previous.Description, current.Description, "Description updated")
	}

	if oldN, newN := previous.ImageCount(), current.ImageCount(); oldN != newN {
		add(models.ChangeImageCount, strconv.Itoa(oldN), strconv.Itoa(newN), describeImageChange(oldN, newN))
	}

	return Detection{Changes: changes, Listing: out}
}

func describePriceChange(oldPrice, newPrice int64) string {
	switch {
	case oldPrice == 0:
		return fmt.Sprintf("Price set to $%s", humanize.Comma(newPrice))
	case newPrice == 0:
		return "Price withdrawn"
	}

	pct := float64(newPrice-oldPrice) / float64(oldPrice) * 100
	direction := "increased"
	if pct < 0 {
		direction = "decreased"
	}
	abs := roundHalfAway(math.Abs(pct), 1)
	if abs >= significantPriceChange {
		direction += " significantly"
	}
	return fmt.Sprintf("Price %s by %s%%", direction, strconv.FormatFloat(abs, 'f', 1, 64))
}

func describeStatusChange(from, to models.Status) string {
	switch {
	case to == models.StatusUnderOffer:
		return "Property is now under offer"
	case to == models.StatusSold && from == models.StatusUnderOffer:
		return "Sale completed"
	case to == models.StatusSold:
		return "Property has been sold"
	case to == models.StatusArchived:
		return "Listing archived"
	default:
		return fmt.Sprintf("Status changed from %s to %s", from, to)
	}
}

func describeImageChange(oldN, newN int) string {
	diff := newN - oldN
	verb := "added"
	if diff < 0 {
		diff = -diff
		verb = "removed"
	}
	noun := "images"
	if diff == 1 {
		noun = "image"
	}
	return fmt.Sprintf("%d %s %s", diff, noun, verb)
}

// roundHalfAway rounds v to the given number of decimals, halves away from
// zero, so 6.25 becomes 6.3.
func roundHalfAway(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
