// Package records names the shared per-entity records feature modules
// declare keys against. Each record kind has an owner marker type, so keys
// of one kind cannot be applied to another, and a schema collecting every
// key declared for it.
package records

import "modstore/pkg/keyed"

// Owner marker types.
type (
	User    struct{}
	World   struct{}
	General struct{}
	Kits    struct{}
)

// Schemas shared by every module of the process.
var (
	Users         = keyed.NewSchema[User]("users")
	Worlds        = keyed.NewSchema[World]("worlds")
	GeneralSchema = keyed.NewSchema[General]("general")
	KitsSchema    = keyed.NewSchema[Kits]("kits")
)

// Record types handed out by the storage services.
type (
	UserData    = keyed.Object[User]
	WorldData   = keyed.Object[World]
	GeneralData = keyed.Object[General]
	KitsData    = keyed.StructuredObject[Kits]
)
