package account

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule asks the planner to create posts for one template.
//
// Exactly one form is used:
//   - cron:  "0 9 * * mon,thu" (robfig/cron standard syntax, descriptors like "@daily")
//   - every: "6h" or "02:30" (fixed interval, aligned to the epoch)
//   - days + time: ["mon", "thu"] at "09:00"
type Schedule struct {
	Template  string   `toml:"template" json:"template" yaml:"template"`
	Cron      string   `toml:"cron,omitempty" json:"cron,omitempty" yaml:"cron,omitempty"`
	Every     string   `toml:"every,omitempty" json:"every,omitempty" yaml:"every,omitempty"`
	Days      []string `toml:"days,omitempty" json:"days,omitempty" yaml:"days,omitempty"`
	Time      string   `toml:"time,omitempty" json:"time,omitempty" yaml:"time,omitempty"`
	Timezone  string   `toml:"timezone,omitempty" json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Platforms []string `toml:"platforms,omitempty" json:"platforms,omitempty" yaml:"platforms,omitempty"`
	MaxPerDay int      `toml:"max_per_day,omitempty" json:"max_per_day,omitempty" yaml:"max_per_day,omitempty"`
}

// Spec is a parsed schedule bound to a time zone.
type Spec struct {
	Kind  SpecKind
	Expr  string
	Every time.Duration
	Loc   *time.Location

	sched cron.Schedule
}

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

var (
	epoch      = time.Unix(0, 0).UTC()
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	dayNames   = map[string]string{
		"mon": "mon", "monday": "mon", "tue": "tue", "tuesday": "tue",
		"wed": "wed", "wednesday": "wed", "thu": "thu", "thursday": "thu",
		"fri": "fri", "friday": "fri", "sat": "sat", "saturday": "sat",
		"sun": "sun", "sunday": "sun", "daily": "*", "*": "*",
	}
)

// Parse resolves the schedule form. fallback is the account time zone.
func (s Schedule) Parse(fallback *time.Location) (Spec, error) {
	loc := fallback
	if loc == nil {
		loc = time.UTC
	}
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return Spec{}, fmt.Errorf("schedule timezone %q: %w", tz, err)
		}
		loc = l
	}

	forms := 0
	for _, set := range []bool{strings.TrimSpace(s.Cron) != "", strings.TrimSpace(s.Every) != "", len(s.Days) > 0 || strings.TrimSpace(s.Time) != ""} {
		if set {
			forms++
		}
	}
	if forms != 1 {
		return Spec{}, fmt.Errorf("schedule for %q: set exactly one of cron, every, or days+time", s.Template)
	}

	switch {
	case strings.TrimSpace(s.Cron) != "":
		return parseCron(strings.TrimSpace(s.Cron), loc)
	case strings.TrimSpace(s.Every) != "":
		d, err := parseInterval(s.Every)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: SpecInterval, Every: d, Loc: loc}, nil
	default:
		expr, err := daysTimeToCron(s.Days, s.Time)
		if err != nil {
			return Spec{}, err
		}
		return parseCron(expr, loc)
	}
}

func parseCron(expr string, loc *time.Location) (Spec, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Kind: SpecCron, Expr: expr, Loc: loc, sched: sched}, nil
}

// Next returns the first occurrence strictly after t.
func (s Spec) Next(t time.Time) time.Time {
	if s.Kind == SpecInterval {
		since := t.Sub(epoch)
		next := epoch.Add((since/s.Every + 1) * s.Every)
		return next.In(s.Loc)
	}
	if s.sched == nil {
		return time.Time{}
	}
	return s.sched.Next(t.In(s.Loc))
}

// daysTimeToCron turns ["mon","thu"] + "09:30" into "30 9 * * mon,thu".
func daysTimeToCron(days []string, hhmm string) (string, error) {
	h, m, err := ParseClock(hhmm)
	if err != nil {
		return "", err
	}
	if len(days) == 0 {
		return fmt.Sprintf("%d %d * * *", m, h), nil
	}
	out := make([]string, 0, len(days))
	for _, d := range days {
		v, ok := dayNames[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return "", fmt.Errorf("unknown day %q", d)
		}
		if v == "*" {
			return fmt.Sprintf("%d %d * * *", m, h), nil
		}
		out = append(out, v)
	}
	return fmt.Sprintf("%d %d * * %s", m, h, strings.Join(out, ",")), nil
}

// ParseClock parses "HH:MM" within a day.
func ParseClock(raw string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q (use HH:MM)", raw)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid time %q (use HH:MM)", raw)
	}
	return h, m, nil
}

// ParseWeekday accepts "mon" or "monday" style names.
func ParseWeekday(raw string) (time.Weekday, error) {
	v, ok := dayNames[strings.ToLower(strings.TrimSpace(raw))]
	if !ok || v == "*" {
		return 0, fmt.Errorf("unknown day %q", raw)
	}
	for i, name := range []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"} {
		if name == v {
			return time.Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("unknown day %q", raw)
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d < MinCadence {
			return 0, fmt.Errorf("interval %q must be >= %s", v, MinCadence)
		}
		return d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '6h')", v)
	}
	if d < MinCadence {
		return 0, fmt.Errorf("interval %q must be >= %s", v, MinCadence)
	}
	return d, nil
}
