// Package jail confines users to named locations, optionally until a
// release time.
package jail

import (
	"sort"
	"time"

	"github.com/zeebo/errs"

	"modstore/pkg/keyed"
	"modstore/pkg/pluginapi"
	"modstore/pkg/query"
	"modstore/pkg/records"
)

// Error is the class of jail errors.
var Error = errs.Class("jail")

// Location is a point in a world.
type Location struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// State is what the user record stores under "jail".
type State struct {
	Jailed  bool       `json:"jailed"`
	Name    string     `json:"name,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Since   time.Time  `json:"since"`
	Release *time.Time `json:"release,omitempty"`
}

// Plugin owns the jail definitions on the general record and the jail state
// on user records.
type Plugin struct {
	jails keyed.Key[map[string]Location, records.General]
	state keyed.Key[State, records.User]
}

var _ pluginapi.Plugin = (*Plugin)(nil)

// New constructs a jail plugin instance.
func New() *Plugin { return &Plugin{} }

// Name returns the plugin identifier.
func (*Plugin) Name() string { return "jail" }

// Version returns the plugin semantic version.
func (*Plugin) Version() string { return "0.1.0" }

// Register declares the jail keys and exposes the jail state to filters.
func (p *Plugin) Register(r pluginapi.Registry) error {
	var err error
	p.jails, err = keyed.DeclareFunc(r.General(), "jails", keyed.JSON[map[string]Location](),
		func() map[string]Location { return map[string]Location{} })
	if err != nil {
		return err
	}
	if p.state, err = keyed.Declare(r.Users(), "jail", keyed.JSON[State](), State{}); err != nil {
		return err
	}
	r.RegisterQueryFields(pluginapi.CategoryUser, query.Fields{
		"jail.jailed":  query.TypeBool,
		"jail.name":    query.TypeString,
		"jail.release": query.TypeTimestamp,
	})
	return nil
}

// Define creates or moves the named jail.
func (p *Plugin) Define(general *records.GeneralData, name string, at Location) error {
	if name == "" {
		return Error.New("empty jail name")
	}
	return p.jails.Update(general, func(cur map[string]Location, _ bool) (map[string]Location, bool) {
		if cur == nil {
			cur = map[string]Location{}
		}
		cur[name] = at
		return cur, true
	})
}

// Remove deletes the named jail and reports whether it existed.
func (p *Plugin) Remove(general *records.GeneralData, name string) bool {
	jails := p.jails.GetOrDefault(general)
	if _, ok := jails[name]; !ok {
		return false
	}
	delete(jails, name)
	if len(jails) == 0 {
		p.jails.Remove(general)
		return true
	}
	return p.jails.Set(general, jails) == nil
}

// Jails returns the defined jail names in order.
func (p *Plugin) Jails(general *records.GeneralData) []string {
	jails := p.jails.GetOrDefault(general)
	names := make([]string, 0, len(jails))
	for name := range jails {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Locate returns the location of the named jail.
func (p *Plugin) Locate(general *records.GeneralData, name string) (Location, bool) {
	loc, ok := p.jails.GetOrDefault(general)[name]
	return loc, ok
}

// Send jails user in the named jail. A zero duration jails indefinitely.
func (p *Plugin) Send(user *records.UserData, general *records.GeneralData, name, reason string, now time.Time, d time.Duration) error {
	if _, ok := p.Locate(general, name); !ok {
		return Error.New("no jail named %q", name)
	}
	st := State{Jailed: true, Name: name, Reason: reason, Since: now.UTC()}
	if d > 0 {
		release := now.Add(d).UTC()
		st.Release = &release
	}
	return p.state.Set(user, st)
}

// Release frees user and reports whether they were jailed.
func (p *Plugin) Release(user *records.UserData) bool {
	st, ok := p.state.Get(user)
	if !ok || !st.Jailed {
		return false
	}
	p.state.Remove(user)
	return true
}

// Status returns the jail state of user. A sentence that ended before now
// is reported as not jailed.
func (p *Plugin) Status(user *records.UserData, now time.Time) (State, bool) {
	st, ok := p.state.Get(user)
	if !ok || !st.Jailed {
		return State{}, false
	}
	if st.Release != nil && !now.Before(*st.Release) {
		return st, false
	}
	return st, true
}

// Jailed selects every jailed user.
func Jailed() query.Query {
	return query.New().Where("jail.jailed", query.Eq, true)
}

// Expired selects jailed users whose release time is before now.
func Expired(now time.Time) query.Query {
	return Jailed().Where("jail.release", query.Lt, now.UTC())
}
