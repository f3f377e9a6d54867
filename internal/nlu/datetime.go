package nlu

import (
	"regexp"
	"strconv"
	"time"
)

// TimeOfDay is a parsed time. DayOffset is non-zero only for relative
// expressions ("dentro de 3 horas") that cross midnight.
type TimeOfDay struct {
	Hour      int
	Minute    int
	DayOffset int
}

// On returns the moment of t on the calendar day of date, in date's location.
func (t TimeOfDay) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d+t.DayOffset, t.Hour, t.Minute, 0, 0, date.Location())
}

var months = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June,
	"julio": time.July, "agosto": time.August, "septiembre": time.September,
	"setiembre": time.September, "octubre": time.October,
	"noviembre": time.November, "diciembre": time.December,
}

var weekdays = map[string]time.Weekday{
	"lunes": time.Monday, "martes": time.Tuesday, "miercoles": time.Wednesday,
	"jueves": time.Thursday, "viernes": time.Friday, "sabado": time.Saturday,
	"domingo": time.Sunday,
}

var dayOffsets = map[string]int{
	"anteayer": -2, "ayer": -1, "hoy": 0, "ahora": 0, "manana": 1,
	"pasado manana": 2, "mediodia": 0, "medianoche": 1, "tarde": 0,
}

var (
	dateDMY       = regexp.MustCompile(`\b(\d{1,2})[-/](\d{1,2})[-/](\d{4})\b`)
	dateYMD       = regexp.MustCompile(`\b(\d{4})[-/](\d{1,2})[-/](\d{1,2})\b`)
	dateSpoken    = regexp.MustCompile(`\b(\d{1,2}) de (enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|setiembre|octubre|noviembre|diciembre)(?: de(?:l)? (\d{4}|este ano))?`)
	dateWeekday   = regexp.MustCompile(`\b(lunes|martes|miercoles|jueves|viernes|sabado|domingo)\b`)
	dateOffset    = regexp.MustCompile(`\b(anteayer|pasado manana|manana|hoy|ayer|ahora|mediodia|medianoche|tarde)\b`)
	dateInDays    = regexp.MustCompile(`\b(\d+) dias?\b`)
	dateInWeeks   = regexp.MustCompile(`\b(\d+) semanas?\b`)
	morningPhrase = regexp.MustCompile(`\bde la manana\b`)
)

// ParseDate parses a Spanish date expression relative to now and returns the
// start of that day in now's location. A day and month without a year that
// already passed this year refers to next year.
func ParseDate(text string, now time.Time) (time.Time, bool) {
	s := ReplaceSpokenNumbers(text)
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	if m := dateDMY.FindStringSubmatch(s); m != nil {
		return buildDate(atoi(m[3]), atoi(m[2]), atoi(m[1]), loc)
	}
	if m := dateYMD.FindStringSubmatch(s); m != nil {
		return buildDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), loc)
	}
	if m := dateSpoken.FindStringSubmatch(s); m != nil {
		year := now.Year()
		explicit := m[3] != "" && m[3] != "este ano"
		if explicit {
			year = atoi(m[3])
		}
		d, ok := buildDate(year, int(months[m[2]]), atoi(m[1]), loc)
		if ok && m[3] == "" && d.Before(today) {
			d = d.AddDate(1, 0, 0)
		}
		return d, ok
	}
	if m := dateWeekday.FindStringSubmatch(s); m != nil {
		diff := (int(weekdays[m[1]]) - int(today.Weekday()) + 7) % 7
		if diff == 0 {
			diff = 7
		}
		return today.AddDate(0, 0, diff), true
	}
	if m := dateOffset.FindStringSubmatch(morningPhrase.ReplaceAllString(s, " ")); m != nil {
		return today.AddDate(0, 0, dayOffsets[m[1]]), true
	}
	if m := dateInDays.FindStringSubmatch(s); m != nil {
		return today.AddDate(0, 0, atoi(m[1])), true
	}
	if m := dateInWeeks.FindStringSubmatch(s); m != nil {
		return today.AddDate(0, 0, 7*atoi(m[1])), true
	}
	return time.Time{}, false
}

func buildDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	// reject normalised dates such as 31/02
	if d.Day() != day || int(d.Month()) != month {
		return time.Time{}, false
	}
	return d, true
}

var minuteOffsets = map[string]int{
	"en punto": 0, "y pico": 10, "y cuarto": 15, "y media": 30, "menos cuarto": -15,
}

type interval struct{ from, to int }

var dayPeriods = map[string]interval{
	"de la manana":    {0, 12},
	"de la tarde":     {12, 0},
	"de la noche":     {18, 6},
	"de la madrugada": {0, 12},
	"del mediodia":    {12, 15},
}

var namedTimes = map[string]TimeOfDay{
	"mediodia":   {Hour: 12},
	"medianoche": {Hour: 0},
	"madrugada":  {Hour: 0},
	"tarde":      {Hour: 17},
}

const minuteAlt = `en punto|y pico|y cuarto|y media|menos cuarto`

var (
	timeWithPeriod = regexp.MustCompile(`\b(\d{1,2})(?:[:h](\d{2})| (` + minuteAlt + `)| y (\d{1,2}))?(?: horas?)? (de la manana|de la tarde|de la noche|de la madrugada|del mediodia)\b`)
	timeWithPhrase = regexp.MustCompile(`\b(\d{1,2}) (` + minuteAlt + `)\b`)
	timeNamed      = regexp.MustCompile(`\b(ahora|mediodia|medianoche|madrugada|tarde)\b`)
	timeRelative   = regexp.MustCompile(`\b(?:dentro de|en) (?:(\d+) horas?(?: y (\d+) minutos?)?|(\d+) minutos?)\b`)
	timeHourAndMin = regexp.MustCompile(`\b(\d{1,2}) +y +(\d{1,2})\b`)
	timeClock      = regexp.MustCompile(`\b(\d{1,2})[:h](\d{2})\b`)
	timeBareHour   = regexp.MustCompile(`\ba las? (\d{1,2})\b`)
)

// ParseTime parses a Spanish time-of-day expression. Relative expressions
// are resolved against now.
func ParseTime(text string, now time.Time) (TimeOfDay, bool) {
	s := ReplaceSpokenNumbers(text)

	if m := timeWithPeriod.FindStringSubmatch(s); m != nil {
		hour, minute := atoi(m[1]), 0
		switch {
		case m[2] != "":
			minute = atoi(m[2])
		case m[3] != "":
			total := hour*60 + minuteOffsets[m[3]]
			hour, minute = total/60, total%60
		case m[4] != "":
			minute = atoi(m[4])
		}
		hour, ok := applyPeriod(hour, dayPeriods[m[5]])
		if !ok || minute < 0 || minute > 59 {
			return TimeOfDay{}, false
		}
		return TimeOfDay{Hour: hour, Minute: minute}, true
	}

	if m := timeWithPhrase.FindStringSubmatch(s); m != nil {
		total := atoi(m[1])*60 + minuteOffsets[m[2]]
		if total < 0 || total/60 > 23 {
			return TimeOfDay{}, false
		}
		return TimeOfDay{Hour: total / 60, Minute: total % 60}, true
	}

	if m := timeRelative.FindStringSubmatch(s); m != nil {
		var d time.Duration
		if m[1] != "" {
			d += time.Duration(atoi(m[1])) * time.Hour
			if m[2] != "" {
				d += time.Duration(atoi(m[2])) * time.Minute
			}
		} else {
			d = time.Duration(atoi(m[3])) * time.Minute
		}
		at := now.Add(d)
		return TimeOfDay{Hour: at.Hour(), Minute: at.Minute(), DayOffset: daysBetween(now, at)}, true
	}

	if m := timeNamed.FindStringSubmatch(s); m != nil {
		if m[1] == "ahora" {
			return TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}, true
		}
		return namedTimes[m[1]], true
	}

	if m := timeHourAndMin.FindStringSubmatch(s); m != nil {
		return clock(atoi(m[1]), atoi(m[2]))
	}
	if m := timeClock.FindStringSubmatch(s); m != nil {
		return clock(atoi(m[1]), atoi(m[2]))
	}
	if m := timeBareHour.FindStringSubmatch(s); m != nil {
		return clock(atoi(m[1]), 0)
	}
	return TimeOfDay{}, false
}

// applyPeriod maps a 12-hour clock hour into the 24-hour range of a period
// of the day ("9 de la noche" -> 21).
func applyPeriod(hour int, p interval) (int, bool) {
	if hour < 0 || hour > 12 {
		return 0, false
	}
	hour %= 12
	switch {
	case hour >= p.from%12:
		return (p.from/12)*12 + hour, true
	case hour <= p.to%12:
		return (p.to/12)*12 + hour, true
	default:
		return 0, false
	}
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 12, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 12, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func clock(hour, minute int) (TimeOfDay, bool) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, false
	}
	return TimeOfDay{Hour: hour, Minute: minute}, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
