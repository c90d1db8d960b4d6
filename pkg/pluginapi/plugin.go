// Package pluginapi is the contract between feature modules and the storage
// layer. A module declares the keys it needs on the shared record schemas
// during Register and keeps the returned keys for its own use; modules never
// see each other's keys.
package pluginapi

import (
	"modstore/pkg/keyed"
	"modstore/pkg/query"
	"modstore/pkg/records"
)

// Category names accepted by RegisterQueryFields.
const (
	CategoryUser  = "user"
	CategoryWorld = "world"
)

// Registry hands a module the schemas it may declare keys on.
type Registry interface {
	Users() *keyed.Schema[records.User]
	Worlds() *keyed.Schema[records.World]
	General() *keyed.Schema[records.General]
	Kits() *keyed.Schema[records.Kits]
	// RegisterQueryFields makes fields nested inside a module's values
	// usable in textual filters over category.
	RegisterQueryFields(category string, fields query.Fields)
}

// Plugin is a feature module.
type Plugin interface {
	Name() string
	Version() string
	Register(Registry) error
}

// Version is the plugin contract version.
const Version = "v1"
