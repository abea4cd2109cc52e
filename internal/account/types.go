package account

import (
	"errors"
	"slices"
	"strconv"
	"strings"
	"time"
)

// MinCadence is the smallest allowed gap between two posts of one account
// on one platform.
const MinCadence = time.Minute

// DefaultCadence applies when an account sets no cadence at all.
const DefaultCadence = time.Hour

var ErrNotFound = errors.New("account not found")

type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusDisabled Status = "disabled"
)

func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatusActive:
		return StatusActive, nil
	case StatusPaused:
		return StatusPaused, nil
	case StatusDisabled:
		return StatusDisabled, nil
	default:
		return "", errors.New("unknown status " + strconv.Quote(s) + " (use active, paused or disabled)")
	}
}

// Account is one brand or persona the system posts for.
type Account struct {
	ID              string
	Name            string
	Site            string
	Status          Status
	Tone            string
	Keywords        []string
	// Theme names a theme file; Categories narrows it to some of its
	// categories (all when empty).
	Theme           string
	Categories      []string
	Hashtags        []string
	Platforms       []string
	Images          []string
	DefaultTemplate string
	Handles         map[string]string
	Schedules       []Schedule

	// Path is the file the account was loaded from.
	Path string

	loc         *time.Location
	cadence     map[string]time.Duration
	credentials map[string]map[string]string
}

func (a Account) Active() bool { return a.Status == StatusActive }

// Location returns the account time zone (UTC when unset).
func (a Account) Location() *time.Location {
	if a.loc == nil {
		return time.UTC
	}
	return a.loc
}

// Cadence is the minimum interval between two posts on platform.
func (a Account) Cadence(platform string) time.Duration {
	if d, ok := a.cadence[platform]; ok {
		return d
	}
	if d, ok := a.cadence["default"]; ok {
		return d
	}
	return DefaultCadence
}

func (a Account) HasPlatform(p string) bool {
	return slices.Contains(a.Platforms, p)
}

// Credential returns a platform secret with ${ENV} references resolved.
func (a Account) Credential(platform, key string) string {
	return a.credentials[platform][key]
}

// Credentials returns a copy of the resolved secrets for platform.
func (a Account) Credentials(platform string) map[string]string {
	src := a.credentials[platform]
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
