// Package testhelper builds isolated plugin registries for unit tests.
// Plugins register against fresh schemas so tests never collide with each
// other or with the process-wide records schemas.
package testhelper

import (
	"modstore/pkg/keyed"
	"modstore/pkg/pluginapi"
	"modstore/pkg/query"
	"modstore/pkg/records"
)

// Registry is a pluginapi.Registry over private schemas.
type Registry struct {
	users   *keyed.Schema[records.User]
	worlds  *keyed.Schema[records.World]
	general *keyed.Schema[records.General]
	kits    *keyed.Schema[records.Kits]
	Fields  map[string]query.Fields
}

var _ pluginapi.Registry = (*Registry)(nil)

// NewRegistry returns a registry with empty schemas.
func NewRegistry() *Registry {
	return &Registry{
		users:   keyed.NewSchema[records.User]("users"),
		worlds:  keyed.NewSchema[records.World]("worlds"),
		general: keyed.NewSchema[records.General]("general"),
		kits:    keyed.NewSchema[records.Kits]("kits"),
		Fields:  map[string]query.Fields{},
	}
}

func (r *Registry) Users() *keyed.Schema[records.User]      { return r.users }
func (r *Registry) Worlds() *keyed.Schema[records.World]    { return r.worlds }
func (r *Registry) General() *keyed.Schema[records.General] { return r.general }
func (r *Registry) Kits() *keyed.Schema[records.Kits]       { return r.kits }

func (r *Registry) RegisterQueryFields(category string, fields query.Fields) {
	cur, ok := r.Fields[category]
	if !ok {
		cur = query.Fields{}
		r.Fields[category] = cur
	}
	for name, t := range fields {
		cur[name] = t
	}
}

// Install registers p against a fresh registry and returns the registry.
func Install(p pluginapi.Plugin) (*Registry, error) {
	r := NewRegistry()
	return r, p.Register(r)
}
