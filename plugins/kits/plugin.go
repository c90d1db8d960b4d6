// Package kits defines redeemable item bundles on the kits record and
// tracks per-user redemptions.
package kits

import (
	"sort"
	"time"

	"github.com/zeebo/errs"

	"modstore/pkg/keyed"
	"modstore/pkg/pluginapi"
	"modstore/pkg/records"
)

var (
	// Error is the class of kit errors.
	Error = errs.Class("kits")
	// ErrCooldown is returned when a kit is redeemed again too early.
	ErrCooldown = errs.Class("kit cooldown")
)

// Kit is one redeemable bundle.
type Kit struct {
	Items    []string `json:"items"`
	Cooldown int64    `json:"cooldownSeconds,omitempty"`
	OneTime  bool     `json:"oneTime,omitempty"`
}

// Plugin owns the kit definitions and the redemption history.
type Plugin struct {
	defs         keyed.Key[map[string]Kit, records.Kits]
	firstJoinKit keyed.Key[string, records.Kits]
	redeemed     keyed.Key[map[string]time.Time, records.User]
}

var _ pluginapi.Plugin = (*Plugin)(nil)

// New constructs a kits plugin instance.
func New() *Plugin { return &Plugin{} }

// Name returns the plugin identifier.
func (*Plugin) Name() string { return "kits" }

// Version returns the plugin semantic version.
func (*Plugin) Version() string { return "0.1.0" }

// Register declares the kit keys.
func (p *Plugin) Register(r pluginapi.Registry) error {
	var err error
	p.defs, err = keyed.DeclareFunc(r.Kits(), "kits", keyed.JSON[map[string]Kit](),
		func() map[string]Kit { return map[string]Kit{} })
	if err != nil {
		return err
	}
	if p.firstJoinKit, err = keyed.DeclarePath(r.Kits(), []string{"settings", "firstJoinKit"}, keyed.String(), ""); err != nil {
		return err
	}
	p.redeemed, err = keyed.DeclareFunc(r.Users(), "kitsRedeemed", keyed.JSON[map[string]time.Time](),
		func() map[string]time.Time { return map[string]time.Time{} })
	return err
}

// Define creates or replaces the named kit.
func (p *Plugin) Define(rec *records.KitsData, name string, kit Kit) error {
	if name == "" {
		return Error.New("empty kit name")
	}
	defs := p.defs.GetOrDefault(rec)
	defs[name] = kit
	return p.defs.Set(rec, defs)
}

// Remove deletes the named kit and reports whether it existed.
func (p *Plugin) Remove(rec *records.KitsData, name string) bool {
	defs := p.defs.GetOrDefault(rec)
	if _, ok := defs[name]; !ok {
		return false
	}
	delete(defs, name)
	if p.firstJoinKit.GetOrDefault(rec) == name {
		p.firstJoinKit.Remove(rec)
	}
	return p.defs.Set(rec, defs) == nil
}

// Lookup returns the named kit.
func (p *Plugin) Lookup(rec *records.KitsData, name string) (Kit, bool) {
	kit, ok := p.defs.GetOrDefault(rec)[name]
	return kit, ok
}

// Names returns the kit names in order.
func (p *Plugin) Names(rec *records.KitsData) []string {
	defs := p.defs.GetOrDefault(rec)
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetFirstJoinKit names the kit handed out on a user's first login. An
// empty name clears it.
func (p *Plugin) SetFirstJoinKit(rec *records.KitsData, name string) error {
	if name == "" {
		p.firstJoinKit.Remove(rec)
		return nil
	}
	if _, ok := p.Lookup(rec, name); !ok {
		return Error.New("no kit named %q", name)
	}
	return p.firstJoinKit.Set(rec, name)
}

// FirstJoinKit returns the kit handed out on first login, if any.
func (p *Plugin) FirstJoinKit(rec *records.KitsData) (string, bool) {
	name, ok := p.firstJoinKit.Get(rec)
	return name, ok && name != ""
}

// Redeem hands the named kit to user and returns its items.
func (p *Plugin) Redeem(user *records.UserData, rec *records.KitsData, name string, now time.Time) ([]string, error) {
	kit, ok := p.Lookup(rec, name)
	if !ok {
		return nil, Error.New("no kit named %q", name)
	}
	history := p.redeemed.GetOrDefault(user)
	if last, used := history[name]; used {
		if kit.OneTime {
			return nil, Error.New("kit %q can only be redeemed once", name)
		}
		next := last.Add(time.Duration(kit.Cooldown) * time.Second)
		if now.Before(next) {
			return nil, ErrCooldown.New("kit %q available in %s", name, next.Sub(now).Round(time.Second))
		}
	}
	history[name] = now.UTC()
	if err := p.redeemed.Set(user, history); err != nil {
		return nil, err
	}
	return append([]string(nil), kit.Items...), nil
}
