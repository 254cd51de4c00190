package chat

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/onnwee/tripfeed/internal/content"
)

// Itinerary bounds.
const (
	DefaultTripDays = 2
	MaxTripDays     = 7
	StopsPerDay     = 3
)

// Card is one recommended place and the reason it was picked.
type Card struct {
	content.Item
	Reason string `json:"reason"`
}

// ScheduleStop is one place on an itinerary day.
type ScheduleStop struct {
	ContentID string `json:"content_id"`
	Title     string `json:"title"`
}

// ScheduleDay is one day of an itinerary.
type ScheduleDay struct {
	Day   string         `json:"day"`
	Stops []ScheduleStop `json:"stops"`
}

var (
	nightsDays = regexp.MustCompile(`(\d+)\s*박\s*(\d+)\s*일`)
	daysOnly   = regexp.MustCompile(`(\d+)\s*일\s*(일정|코스|여행|동안)`)
	dayTrip    = regexp.MustCompile(`당일\s*치기|하루\s*(일정|코스|여행)`)
)

// TripDays reads the trip length from msg: "2박 3일" is three days,
// "당일치기" one. Unstated lengths default to DefaultTripDays; stated ones
// are clamped to [1, MaxTripDays].
func TripDays(msg string) int {
	n := 0
	switch {
	case dayTrip.MatchString(msg):
		n = 1
	case nightsDays.MatchString(msg):
		n, _ = strconv.Atoi(nightsDays.FindStringSubmatch(msg)[2])
	case daysOnly.MatchString(msg):
		n, _ = strconv.Atoi(daysOnly.FindStringSubmatch(msg)[1])
	default:
		return DefaultTripDays
	}
	return min(max(n, 1), MaxTripDays)
}

// BuildSchedule spreads items over days in ranked order. Earlier days take
// the remainder, and days left without a stop are omitted.
func BuildSchedule(items []*content.Item, days int) []ScheduleDay {
	if days <= 0 || len(items) == 0 {
		return nil
	}
	per, extra := len(items)/days, len(items)%days
	out := make([]ScheduleDay, 0, days)
	next := 0
	for d := 0; d < days; d++ {
		n := per
		if d < extra {
			n++
		}
		if n == 0 {
			break
		}
		day := ScheduleDay{Day: fmt.Sprintf("Day %d", d+1), Stops: make([]ScheduleStop, n)}
		for i := 0; i < n; i++ {
			it := items[next]
			day.Stops[i] = ScheduleStop{ContentID: it.ID, Title: it.Title}
			next++
		}
		out = append(out, day)
	}
	return out
}

// reason explains a card: the place's finest named category (or the
// intent's theme) and where it was searched.
func (c *Controller) reason(intent Intent, p plan, it *content.Item) string {
	theme := intent.Label()
	if c.cfg.Encoder != nil {
		for _, code := range []string{it.Category3, it.Category2} {
			if code == "" {
				continue
			}
			if name := c.cfg.Encoder.Name(code); name != code {
				theme = name
				break
			}
		}
	}
	switch {
	case intent == IntentQuiet:
		return fmt.Sprintf("'%s' 관련 장소 중 붐비지 않는 숨은 명소예요.", theme)
	case p.mode == ModeNearby && p.location != "":
		return fmt.Sprintf("%s 근처의 '%s' 관련 장소예요.", p.location, theme)
	case p.mode == ModeNearby:
		return fmt.Sprintf("가까운 '%s' 관련 장소예요.", theme)
	case p.location != "":
		return fmt.Sprintf("'%s' 관련 장소이고, %s 지역 기반 추천입니다.", theme, p.location)
	}
	return fmt.Sprintf("'%s' 관련 장소이고, 요청 내용과 가장 잘 맞는 곳이에요.", theme)
}

func (c *Controller) cards(intent Intent, p plan, items []*content.Item) []Card {
	out := make([]Card, len(items))
	for i, it := range items {
		out[i] = Card{Item: *it, Reason: c.reason(intent, p, it)}
	}
	return out
}
