// Package playerinfo records when and from where users connect.
package playerinfo

import (
	"time"

	"modstore/pkg/keyed"
	"modstore/pkg/pluginapi"
	"modstore/pkg/query"
	"modstore/pkg/records"
)

// Key names on the user record.
const (
	KeyFirstJoin = "firstJoin"
	KeyLastLogin = "lastLogin"
	KeyLastIP    = "lastIP"
	KeyLogins    = "logins"
)

// Plugin owns the connection keys of the user record.
type Plugin struct {
	firstJoin keyed.Key[time.Time, records.User]
	lastLogin keyed.Key[time.Time, records.User]
	lastIP    keyed.Key[string, records.User]
	logins    keyed.Key[int, records.User]
}

var _ pluginapi.Plugin = (*Plugin)(nil)

// New constructs a playerinfo plugin instance.
func New() *Plugin { return &Plugin{} }

// Name returns the plugin identifier.
func (*Plugin) Name() string { return "playerinfo" }

// Version returns the plugin semantic version.
func (*Plugin) Version() string { return "0.1.0" }

// Register declares the connection keys.
func (p *Plugin) Register(r pluginapi.Registry) error {
	var err error
	if p.firstJoin, err = keyed.Declare(r.Users(), KeyFirstJoin, keyed.Time(), time.Time{}); err != nil {
		return err
	}
	if p.lastLogin, err = keyed.Declare(r.Users(), KeyLastLogin, keyed.Time(), time.Time{}); err != nil {
		return err
	}
	if p.lastIP, err = keyed.Declare(r.Users(), KeyLastIP, keyed.String(), ""); err != nil {
		return err
	}
	p.logins, err = keyed.Declare(r.Users(), KeyLogins, keyed.Int(), 0)
	return err
}

// RecordLogin notes a connection from ip at the given instant. The first
// recorded login also becomes the join date.
func (p *Plugin) RecordLogin(user *records.UserData, at time.Time, ip string) error {
	if !p.firstJoin.Has(user) {
		if err := p.firstJoin.Set(user, at); err != nil {
			return err
		}
	}
	if err := p.lastLogin.Set(user, at); err != nil {
		return err
	}
	if ip != "" {
		if err := p.lastIP.Set(user, ip); err != nil {
			return err
		}
	}
	return p.logins.Update(user, func(n int, _ bool) (int, bool) { return n + 1, true })
}

// Info is a read-only view of a user's connection history.
type Info struct {
	FirstJoin time.Time
	LastLogin time.Time
	LastIP    string
	Logins    int
}

// Lookup returns the connection history stored on user.
func (p *Plugin) Lookup(user *records.UserData) Info {
	return Info{
		FirstJoin: p.firstJoin.GetOrDefault(user),
		LastLogin: p.lastLogin.GetOrDefault(user),
		LastIP:    p.lastIP.GetOrDefault(user),
		Logins:    p.logins.GetOrDefault(user),
	}
}

// SeenSince selects users whose last login is at or after t.
func SeenSince(t time.Time) query.Query {
	return query.New().Where(KeyLastLogin, query.Ge, t)
}

// InactiveSince selects users who have not logged in since t.
func InactiveSince(t time.Time) query.Query {
	return query.New().Where(KeyLastLogin, query.Lt, t)
}
