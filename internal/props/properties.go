// Package props implements the Properties component (C2): typed accessors
// over a string->any configuration map (spec §3, §6). It is a thin wrapper
// around *viper.Viper (grounded on randybias-nightcrier's use of viper for
// layered, typed configuration) rather than a hand-rolled map[string]any
// accessor set, since viper already gives GetString/GetInt/GetDuration with
// the right zero-value semantics and env-var overlay for free.
//
// There is no CLI surface here (spec §6 non-goal): no cobra command tree is
// built on top of this, only the Viper config object itself.
package props

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Properties is C2: a typed accessor layer over configuration. Zero value is
// not usable; construct with New or FromMap.
type Properties struct {
	v *viper.Viper
}

// New returns an empty Properties backed by a fresh viper instance.
func New() *Properties {
	v := viper.New()
	return &Properties{v: v}
}

// FromMap builds Properties from a flat string->any map, the shape the
// connection-string parser and the Client façade (§1, out of scope) hand to
// the core.
func FromMap(m map[string]interface{}) *Properties {
	p := New()
	for k, val := range m {
		p.v.Set(k, val)
	}
	return p
}

// Clone returns a Properties with the same values, safe to mutate
// independently of the original (used when a plugin needs to override one
// key, e.g. the auth plugins (C11) substituting "password").
func (p *Properties) Clone() *Properties {
	out := New()
	for _, k := range p.v.AllKeys() {
		out.v.Set(k, p.v.Get(k))
	}
	return out
}

func (p *Properties) Set(key string, value interface{}) { p.v.Set(key, value) }
func (p *Properties) Has(key string) bool                { return p.v.IsSet(key) }
func (p *Properties) Get(key string) interface{}          { return p.v.Get(key) }

func (p *Properties) GetString(key string) string   { return p.v.GetString(key) }
func (p *Properties) GetInt(key string) int         { return p.v.GetInt(key) }
func (p *Properties) GetBool(key string) bool       { return p.v.GetBool(key) }
func (p *Properties) GetFloat64(key string) float64 { return p.v.GetFloat64(key) }

// GetDuration reads key as milliseconds (every *Ms option in spec §6) when it
// holds a bare number, or as a Go duration string otherwise.
func (p *Properties) GetDuration(key string, fallback time.Duration) time.Duration {
	if !p.v.IsSet(key) {
		return fallback
	}
	switch raw := p.v.Get(key).(type) {
	case time.Duration:
		if raw != 0 {
			return raw
		}
		return fallback
	case string:
		if d, err := time.ParseDuration(raw); err == nil && d != 0 {
			return d
		}
	}
	if ms := p.v.GetInt64(key); ms != 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func (p *Properties) GetStringSlice(key string) []string { return p.v.GetStringSlice(key) }

// GetStringDefault is GetString with an explicit fallback for unset keys.
func (p *Properties) GetStringDefault(key, fallback string) string {
	if !p.v.IsSet(key) {
		return fallback
	}
	return p.v.GetString(key)
}

// MonitoringSubProperties returns a Properties for the dedicated monitoring
// connection (spec §4.6, §6's monitoring-* prefix): every key prefixed
// "monitoring-" overrides the corresponding base key, and any base key left
// untouched passes through unchanged. This is how a host's EFM ping
// connection gets its own timeouts without bleeding into the user's
// connection and vice versa.
func (p *Properties) MonitoringSubProperties() *Properties {
	sub := p.Clone()
	const prefix = "monitoring-"
	for _, k := range p.v.AllKeys() {
		if strings.HasPrefix(k, prefix) {
			base := strings.TrimPrefix(k, prefix)
			sub.v.Set(base, p.v.Get(k))
		}
	}
	return sub
}

// AllKeys exposes the full key set, mainly for diagnostics/logging.
func (p *Properties) AllKeys() []string { return p.v.AllKeys() }
