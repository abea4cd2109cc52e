package account

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	yaml "go.yaml.in/yaml/v3"

	"autopost/internal/config"
)

// File is the on-disk account definition (TOML, YAML or JSON).
type File struct {
	ID              string                       `toml:"id" json:"id" yaml:"id"`
	Name            string                       `toml:"name" json:"name" yaml:"name"`
	Site            string                       `toml:"site,omitempty" json:"site,omitempty" yaml:"site,omitempty"`
	Status          string                       `toml:"status,omitempty" json:"status,omitempty" yaml:"status,omitempty"`
	Tone            string                       `toml:"tone,omitempty" json:"tone,omitempty" yaml:"tone,omitempty"`
	Theme           string                       `toml:"theme,omitempty" json:"theme,omitempty" yaml:"theme,omitempty"`
	Categories      []string                     `toml:"categories,omitempty" json:"categories,omitempty" yaml:"categories,omitempty"`
	Keywords        []string                     `toml:"keywords,omitempty" json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Hashtags        []string                     `toml:"hashtags,omitempty" json:"hashtags,omitempty" yaml:"hashtags,omitempty"`
	Platforms       []string                     `toml:"platforms" json:"platforms" yaml:"platforms"`
	Images          []string                     `toml:"images,omitempty" json:"images,omitempty" yaml:"images,omitempty"`
	Timezone        string                       `toml:"timezone,omitempty" json:"timezone,omitempty" yaml:"timezone,omitempty"`
	DefaultTemplate string                       `toml:"default_template,omitempty" json:"default_template,omitempty" yaml:"default_template,omitempty"`
	Cadence         map[string]string            `toml:"cadence,omitempty" json:"cadence,omitempty" yaml:"cadence,omitempty"`
	Handles         map[string]string            `toml:"handles,omitempty" json:"handles,omitempty" yaml:"handles,omitempty"`
	Schedules       []Schedule                   `toml:"schedules,omitempty" json:"schedules,omitempty" yaml:"schedules,omitempty"`
	Credentials     map[string]map[string]string `toml:"credentials,omitempty" json:"credentials,omitempty" yaml:"credentials,omitempty"`
}

var reID = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// IsAccountFile reports whether name has an extension the loader reads.
func IsAccountFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml", ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// ReadFile decodes an account file strictly (unknown keys are rejected).
func ReadFile(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return DecodeFile(path, raw)
}

// DecodeFile decodes raw bytes using the format implied by path.
func DecodeFile(path string, raw []byte) (File, error) {
	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return File{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	case ".yaml", ".yml":
		jb, err := config.YAMLToJSON(raw)
		if err != nil {
			return File{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		raw = jb
		fallthrough
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return File{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	default:
		return File{}, fmt.Errorf("%s: unsupported account file type", filepath.Base(path))
	}
	if strings.TrimSpace(f.ID) == "" {
		base := filepath.Base(path)
		f.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return f, nil
}

// Build validates f and resolves it into an Account.
func (f File) Build(path string) (Account, error) {
	id := strings.TrimSpace(f.ID)
	if !reID.MatchString(id) {
		return Account{}, fmt.Errorf("account id %q: use lowercase letters, digits, '-' or '_'", f.ID)
	}
	status, err := ParseStatus(f.Status)
	if err != nil {
		return Account{}, fmt.Errorf("account %s: %w", id, err)
	}
	if len(f.Platforms) == 0 {
		return Account{}, fmt.Errorf("account %s: at least one platform is required", id)
	}
	platforms := make([]string, 0, len(f.Platforms))
	for _, p := range f.Platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if !knownPlatform(p) {
			return Account{}, fmt.Errorf("account %s: unknown platform %q", id, p)
		}
		platforms = append(platforms, p)
	}

	loc := time.UTC
	if tz := strings.TrimSpace(f.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return Account{}, fmt.Errorf("account %s: timezone %q: %w", id, tz, err)
		}
		loc = l
	}

	cadence := make(map[string]time.Duration, len(f.Cadence))
	for key, raw := range f.Cadence {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Account{}, fmt.Errorf("account %s: cadence.%s: %w", id, key, err)
		}
		if d < MinCadence {
			return Account{}, fmt.Errorf("account %s: cadence.%s = %s is below the %s minimum", id, key, d, MinCadence)
		}
		cadence[strings.ToLower(key)] = d
	}

	for i, s := range f.Schedules {
		if strings.TrimSpace(s.Template) == "" {
			return Account{}, fmt.Errorf("account %s: schedules[%d]: template is required", id, i)
		}
		if _, err := s.Parse(loc); err != nil {
			return Account{}, fmt.Errorf("account %s: schedules[%d]: %w", id, i, err)
		}
		for _, p := range s.Platforms {
			if !containsFold(platforms, p) {
				return Account{}, fmt.Errorf("account %s: schedules[%d]: platform %q is not enabled for the account", id, i, p)
			}
		}
	}

	creds := make(map[string]map[string]string, len(f.Credentials))
	for platform, kv := range f.Credentials {
		m := make(map[string]string, len(kv))
		for k, v := range kv {
			m[k] = config.ExpandEnv(v)
		}
		creds[strings.ToLower(platform)] = m
	}

	name := strings.TrimSpace(f.Name)
	if name == "" {
		name = id
	}
	return Account{
		ID:              id,
		Name:            name,
		Site:            strings.TrimSpace(f.Site),
		Status:          status,
		Tone:            strings.TrimSpace(f.Tone),
		Theme:           strings.TrimSpace(f.Theme),
		Categories:      f.Categories,
		Keywords:        f.Keywords,
		Hashtags:        f.Hashtags,
		Platforms:       platforms,
		Images:          f.Images,
		DefaultTemplate: strings.TrimSpace(f.DefaultTemplate),
		Handles:         f.Handles,
		Schedules:       f.Schedules,
		Path:            path,
		loc:             loc,
		cadence:         cadence,
		credentials:     creds,
	}, nil
}

// Encode renders f in the format implied by path.
func (f File) Encode(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Marshal(f)
	case ".yaml", ".yml":
		return yaml.Marshal(f)
	case ".json":
		return json.MarshalIndent(f, "", "  ")
	default:
		return nil, fmt.Errorf("%s: unsupported account file type", filepath.Base(path))
	}
}

// WriteFile writes f atomically to path.
func (f File) WriteFile(path string) error {
	b, err := f.Encode(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func knownPlatform(p string) bool {
	for _, name := range config.PlatformNames {
		if name == p {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}
