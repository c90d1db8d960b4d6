package core

import (
	"fmt"
	"sort"
	"sync"

	"modstore/internal/persistence"
	"modstore/pkg/keyed"
	"modstore/pkg/pluginapi"
	"modstore/pkg/query"
	"modstore/pkg/records"
)

// PluginMetadata describes an installed plugin.
type PluginMetadata struct {
	Name    string
	Version string
}

// PluginRegistry accumulates plugin contributions during registration.
type PluginRegistry struct {
	users   *keyed.Schema[records.User]
	worlds  *keyed.Schema[records.World]
	general *keyed.Schema[records.General]
	kits    *keyed.Schema[records.Kits]

	mu      sync.Mutex
	fields  map[string]query.Fields
	plugins []PluginMetadata
}

var _ pluginapi.Registry = (*PluginRegistry)(nil)

// NewPluginRegistry constructs a registry over the process-wide record
// schemas.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		users:   records.Users,
		worlds:  records.Worlds,
		general: records.GeneralSchema,
		kits:    records.KitsSchema,
		fields:  make(map[string]query.Fields),
	}
}

// Users implements pluginapi.Registry.
func (r *PluginRegistry) Users() *keyed.Schema[records.User] { return r.users }

// Worlds implements pluginapi.Registry.
func (r *PluginRegistry) Worlds() *keyed.Schema[records.World] { return r.worlds }

// General implements pluginapi.Registry.
func (r *PluginRegistry) General() *keyed.Schema[records.General] { return r.general }

// Kits implements pluginapi.Registry.
func (r *PluginRegistry) Kits() *keyed.Schema[records.Kits] { return r.kits }

// RegisterQueryFields implements pluginapi.Registry.
func (r *PluginRegistry) RegisterQueryFields(category string, fields query.Fields) {
	if category == "" || len(fields) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.fields[category]
	if !ok {
		cur = make(query.Fields, len(fields))
		r.fields[category] = cur
	}
	for name, t := range fields {
		cur[name] = t
	}
}

// Install registers p. Installing two plugins with the same name fails.
func (r *PluginRegistry) Install(p pluginapi.Plugin) error {
	r.mu.Lock()
	for _, meta := range r.plugins {
		if meta.Name == p.Name() {
			r.mu.Unlock()
			return Error.New("plugin %s already installed", p.Name())
		}
	}
	r.mu.Unlock()

	if err := p.Register(r); err != nil {
		return fmt.Errorf("install plugin %s: %w", p.Name(), err)
	}
	r.mu.Lock()
	r.plugins = append(r.plugins, PluginMetadata{Name: p.Name(), Version: p.Version()})
	r.mu.Unlock()
	return nil
}

// Plugins returns the installed plugins ordered by name.
func (r *PluginRegistry) Plugins() []PluginMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]PluginMetadata(nil), r.plugins...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// QueryFields returns every field a textual filter over c may reference:
// the scalar keys of the category schema plus fields plugins registered.
func (r *PluginRegistry) QueryFields(c persistence.Category) query.Fields {
	var out query.Fields
	switch c {
	case persistence.CategoryUser:
		out = r.users.QueryFields()
	case persistence.CategoryWorld:
		out = r.worlds.QueryFields()
	default:
		out = query.Fields{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, t := range r.fields[string(c)] {
		out[name] = t
	}
	return out
}
