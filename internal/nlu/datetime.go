package nlu

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"time"
)

var (
	ErrNoDay       = errors.New("no day found")
	ErrInvalidDay  = errors.New("day is not a valid calendar date")
	ErrNoTime      = errors.New("no time found")
	ErrInvalidTime = errors.New("time is not a valid time of day")
	ErrVagueTime   = errors.New("time is only a part of day")
	ErrInPast      = errors.New("date and time are in the past")
)

// Day is a calendar date without a time zone.
type Day struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Day   int        `json:"day"`
}

func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

func (d Day) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Day) Weekday() time.Weekday {
	return d.In(time.UTC).Weekday()
}

// Spoken renders the day for a voice prompt, e.g. "Monday, March 9".
func (d Day) Spoken() string {
	return fmt.Sprintf("%s, %s %d", d.Weekday(), d.Month, d.Day)
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Clock is a time of day on a 24 hour clock.
type Clock struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (c Clock) Spoken() string {
	h := c.Hour % 12
	if h == 0 {
		h = 12
	}
	ampm := "AM"
	if c.Hour >= 12 {
		ampm = "PM"
	}
	if c.Minute == 0 {
		return fmt.Sprintf("%d %s", h, ampm)
	}
	return fmt.Sprintf("%d:%02d %s", h, c.Minute, ampm)
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// At combines a day and a clock in loc.
func At(d Day, c Clock, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc)
}

var (
	weekdays = map[string]time.Weekday{
		"sunday": time.Sunday, "sun": time.Sunday,
		"monday": time.Monday, "mon": time.Monday,
		"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
		"wednesday": time.Wednesday, "wed": time.Wednesday,
		"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
		"friday": time.Friday, "fri": time.Friday,
		"saturday": time.Saturday, "sat": time.Saturday,
	}
	months = map[string]time.Month{
		"january": time.January, "jan": time.January,
		"february": time.February, "feb": time.February,
		"march": time.March, "mar": time.March,
		"april": time.April, "apr": time.April,
		"may":  time.May,
		"june": time.June, "jun": time.June,
		"july": time.July, "jul": time.July,
		"august": time.August, "aug": time.August,
		"september": time.September, "sep": time.September, "sept": time.September,
		"october": time.October, "oct": time.October,
		"november": time.November, "nov": time.November,
		"december": time.December, "dec": time.December,
	}
	vagueWords = []string{
		"morning", "afternoon", "evening", "night", "tonight", "later", "sometime",
		"anytime", "lunch", "early", "late", "whenever",
	}
	slashDate = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?$`)
	digitTime = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?$`)
)

// ParseDay resolves a spoken day relative to now. Weekday names resolve to
// the next such day strictly after today unless prefixed with "this" on
// that same weekday; month/day dates already past this year roll over.
func ParseDay(raw string, now time.Time) (Day, error) {
	toks := tokenize(raw)
	if len(toks) == 0 {
		return Day{}, ErrNoDay
	}
	today := DayOf(now)
	has := func(w string) bool { return slices.Contains(toks, w) }

	switch {
	case has("day") && has("after") && has("tomorrow"):
		return DayOf(now.AddDate(0, 0, 2)), nil
	case has("tomorrow"):
		return DayOf(now.AddDate(0, 0, 1)), nil
	case has("today") || has("tonight"):
		return today, nil
	}

	for i, t := range toks {
		if m, ok := months[t]; ok {
			next := i + 1
			if next < len(toks) && toks[next] == "the" {
				next++
			}
			if v, _, ok := number(toks, next); ok {
				return calendarDay(now, m, v, 0)
			}
			if i >= 2 && toks[i-1] == "of" {
				if v, ok := dayNumberBefore(toks, i-1); ok {
					return calendarDay(now, m, v, 0)
				}
			}
			if i >= 1 {
				if v, ok := dayNumberBefore(toks, i); ok {
					return calendarDay(now, m, v, 0)
				}
			}
			return Day{}, fmt.Errorf("%w: month without day in %q", ErrNoDay, raw)
		}
		if m := slashDate.FindStringSubmatch(t); m != nil {
			month, _ := strconv.Atoi(m[1])
			day, _ := strconv.Atoi(m[2])
			year := 0
			if m[3] != "" {
				year, _ = strconv.Atoi(m[3])
				if year < 100 {
					year += 2000
				}
			}
			if month < 1 || month > 12 {
				return Day{}, fmt.Errorf("%w: month %d", ErrInvalidDay, month)
			}
			return calendarDay(now, time.Month(month), day, year)
		}
	}

	for _, t := range toks {
		wd, ok := weekdays[t]
		if !ok {
			continue
		}
		ahead := (int(wd) - int(now.Weekday()) + 7) % 7
		if ahead == 0 && !has("this") {
			ahead = 7
		}
		return DayOf(now.AddDate(0, 0, ahead)), nil
	}

	// "the fifth" alone means the next fifth of a month.
	for i := range toks {
		if v, n, ok := number(toks, i); ok && n > 0 && isOrdinalToken(toks[i+n-1]) {
			month := now.Month()
			if v < now.Day() {
				month++
			}
			d, err := calendarDay(now, month, v, 0)
			if err == nil {
				return d, nil
			}
			return calendarDay(now, month+1, v, 0)
		}
	}

	return Day{}, fmt.Errorf("%w: %q", ErrNoDay, raw)
}

func dayNumberBefore(toks []string, end int) (int, bool) {
	for start := end - 2; start < end; start++ {
		if start < 0 {
			continue
		}
		if v, n, ok := number(toks, start); ok && start+n == end {
			return v, true
		}
	}
	return 0, false
}

func isOrdinalToken(t string) bool {
	if _, ok := ordinals[t]; ok {
		return true
	}
	m := ordinalDigits.FindStringSubmatch(t)
	return m != nil && m[2] != ""
}

func calendarDay(now time.Time, month time.Month, day, year int) (Day, error) {
	explicitYear := year != 0
	if !explicitYear {
		year = now.Year()
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	if day < 1 || t.Month() != ((month-1)%12+12)%12+1 || t.Day() != day {
		return Day{}, fmt.Errorf("%w: %s %d", ErrInvalidDay, month, day)
	}
	d := DayOf(t)
	if d.In(time.UTC).Before(DayOf(now).In(time.UTC)) {
		if explicitYear {
			return Day{}, fmt.Errorf("%w: %s", ErrInPast, d)
		}
		next := time.Date(year+1, t.Month(), day, 0, 0, 0, 0, now.Location())
		if next.Day() != day {
			return Day{}, fmt.Errorf("%w: %s %d", ErrInvalidDay, month, day)
		}
		d = DayOf(next)
	}
	return d, nil
}

// ParseClock reads a spoken time of day. Without am/pm, hours 1-6 are taken
// as afternoon and 7-11 as morning, matching typical shift hours.
func ParseClock(raw string) (Clock, error) {
	toks := tokenize(raw)
	if len(toks) == 0 {
		return Clock{}, ErrNoTime
	}
	has := func(w string) bool { return slices.Contains(toks, w) }

	switch {
	case has("noon") || has("midday"):
		return Clock{Hour: 12}, nil
	case has("midnight"):
		return Clock{Hour: 0}, nil
	}

	meridiem := ""
	switch {
	case has("am") || has("morning"):
		meridiem = "am"
	case has("pm") || has("afternoon") || has("evening") || has("tonight") || has("night"):
		meridiem = "pm"
	}

	hour, minute, found := -1, 0, false
	for i := 0; i < len(toks) && !found; i++ {
		t := toks[i]
		if m := digitTime.FindStringSubmatch(t); m != nil {
			hour, _ = strconv.Atoi(m[1])
			if m[2] != "" {
				minute, _ = strconv.Atoi(m[2])
			} else if mm, ok := minutesAfter(toks, i+1); ok {
				minute = mm
			}
			found = true
			break
		}
		switch t {
		case "half", "quarter":
			if i+2 < len(toks) && (toks[i+1] == "past" || toks[i+1] == "to" || toks[i+1] == "after" || toks[i+1] == "before") {
				h, _, ok := hourAt(toks, i+2)
				if !ok {
					continue
				}
				off := 30
				if t == "quarter" {
					off = 15
				}
				if toks[i+1] == "to" || toks[i+1] == "before" {
					h = (h + 11) % 12
					if h == 0 {
						h = 12
					}
					off = 60 - off
				}
				hour, minute, found = h, off, true
			}
			continue
		}
		if h, n, ok := hourAt(toks, i); ok {
			hour = h
			if mm, ok := minutesAfter(toks, i+n); ok {
				minute = mm
			}
			found = true
		}
	}

	if !found {
		for _, w := range vagueWords {
			if has(w) {
				return Clock{}, fmt.Errorf("%w: %q", ErrVagueTime, raw)
			}
		}
		return Clock{}, fmt.Errorf("%w: %q", ErrNoTime, raw)
	}

	if hour > 23 || minute > 59 || (meridiem != "" && (hour < 1 || hour > 12)) {
		return Clock{}, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}

	switch meridiem {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 12 {
			hour += 12
		}
	default:
		if hour >= 1 && hour <= 6 {
			hour += 12
		}
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

// hourAt reads an hour word ("two") at toks[i]; digits are handled by the caller.
func hourAt(toks []string, i int) (int, int, bool) {
	if i >= len(toks) {
		return 0, 0, false
	}
	if v, ok := units[toks[i]]; ok && v > 0 && toks[i] != "oh" {
		return v, 1, true
	}
	if v, ok := teens[toks[i]]; ok && v <= 12 {
		return v, 1, true
	}
	if m := digitTime.FindStringSubmatch(toks[i]); m != nil && m[2] == "" {
		v, _ := strconv.Atoi(m[1])
		return v, 1, true
	}
	return 0, 0, false
}

// minutesAfter reads "thirty", "oh five", "forty five" or "15" following an hour.
func minutesAfter(toks []string, i int) (int, bool) {
	if i >= len(toks) {
		return 0, false
	}
	switch toks[i] {
	case "oclock":
		return 0, true
	case "oh", "o":
		if i+1 < len(toks) {
			if v, ok := units[toks[i+1]]; ok {
				return v, true
			}
		}
		return 0, false
	}
	if _, isOrd := ordinals[toks[i]]; isOrd {
		return 0, false
	}
	if v, n, ok := number(toks, i); ok && v >= 10 && v < 60 {
		if n == 1 && isOrdinalToken(toks[i]) {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// Resolved is a normalized extraction.
type Resolved struct {
	Day   *Day
	Clock *Clock
	Vague bool
}

// Resolve validates an extraction against the calendar in now's location.
// A vague time is not an error; it is reported through Vague.
func Resolve(ext Extraction, now time.Time) (Resolved, error) {
	var out Resolved

	if ext.HasDay {
		d, err := ParseDay(ext.DayText, now)
		if err != nil {
			return Resolved{}, err
		}
		out.Day = &d
	}

	if ext.HasTime {
		c, err := ParseClock(ext.TimeText)
		switch {
		case errors.Is(err, ErrVagueTime):
			out.Vague = true
		case err != nil:
			return Resolved{}, err
		default:
			out.Clock = &c
		}
	}
	if ext.VagueTime && out.Clock == nil {
		out.Vague = true
	}

	if out.Day != nil && out.Clock != nil && At(*out.Day, *out.Clock, now.Location()).Before(now) {
		return Resolved{}, fmt.Errorf("%w: %s %s", ErrInPast, out.Day, out.Clock)
	}
	return out, nil
}
