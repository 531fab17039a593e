package attr

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	datePattern     = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
	timePattern     = regexp.MustCompile(`^[0-9]{2}:[0-9]{2}(:[0-9]{2}(\.[0-9]+)?)?$`)
	datetimePattern = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}(:[0-9]{2}(\.[0-9]+)?)?$`)
	offsetPattern   = regexp.MustCompile(`^([+-])([0-9]+)([smhdw])$`)
)

// validateTemporal validates DATE, TIME and DATETIME strings: an ISO
// format check followed by optional range membership. Range bounds may be
// relative offsets ("+7d", "-1h", "+30m") resolved against the clock at
// validation time, not at schema definition time.
func validateTemporal(p Params) (any, *Error) {
	s, ok := p.Value.(string)
	if !ok {
		return nil, invalidErr(p.Name, p.Type, p.Value)
	}
	value, ok := parseTemporal(p.Type.Kind, s)
	if !ok {
		return nil, invalidMsgErr(p.Name, fmt.Sprintf("%q is not a valid %s", s, p.Type.Kind))
	}
	ranges := stringRanges(p.Type)
	if len(ranges) == 0 {
		return s, nil
	}
	now := p.Ctx.now()
	for _, r := range ranges {
		lo, err := resolveBound(p.Type.Kind, r[0], now)
		if err != nil {
			return nil, invalidMsgErr(p.Name, err.Error())
		}
		hi, err := resolveBound(p.Type.Kind, r[1], now)
		if err != nil {
			return nil, invalidMsgErr(p.Name, err.Error())
		}
		// Half-open: lower bound inclusive, upper exclusive.
		if !value.Before(lo) && value.Before(hi) {
			return s, nil
		}
	}
	return nil, invalidMsgErr(p.Name, fmt.Sprintf("%q outside declared ranges", s))
}

func parseTemporal(kind Kind, s string) (time.Time, bool) {
	var layouts []string
	switch kind {
	case KindDate:
		if !datePattern.MatchString(s) {
			return time.Time{}, false
		}
		layouts = []string{"2006-01-02"}
	case KindTime:
		if !timePattern.MatchString(s) {
			return time.Time{}, false
		}
		layouts = []string{"15:04:05.999999", "15:04:05", "15:04"}
	case KindDatetime:
		if !datetimePattern.MatchString(s) {
			return time.Time{}, false
		}
		layouts = []string{"2006-01-02T15:04:05.999999", "2006-01-02T15:04:05", "2006-01-02T15:04"}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// resolveBound resolves a range bound: a relative offset against now, or a
// literal of the kind's own format.
func resolveBound(kind Kind, bound string, now time.Time) (time.Time, error) {
	if m := offsetPattern.FindStringSubmatch(bound); m != nil {
		n, _ := strconv.Atoi(m[2])
		var unit time.Duration
		switch m[3] {
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		case "w":
			unit = 7 * 24 * time.Hour
		}
		d := time.Duration(n) * unit
		if m[1] == "-" {
			d = -d
		}
		at := now.Add(d)
		// Re-parse through the kind's own layout so offsets and literals
		// compare in the same reference frame.
		t, ok := parseTemporal(kind, formatTemporal(kind, at))
		if !ok {
			return time.Time{}, fmt.Errorf("unresolvable bound %q", bound)
		}
		return t, nil
	}
	t, ok := parseTemporal(kind, bound)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid range bound %q for %s", bound, kind)
	}
	return t, nil
}

func formatTemporal(kind Kind, t time.Time) string {
	switch kind {
	case KindDate:
		return t.Format("2006-01-02")
	case KindTime:
		return t.Format("15:04:05")
	default:
		return t.Format("2006-01-02T15:04:05")
	}
}
