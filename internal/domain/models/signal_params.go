package models

import (
	"fmt"
	"sort"
)

// DefaultProfileName is the profile created when none exist.
const DefaultProfileName = "default"

// SignalParams are the live decision parameters used by bots and panels.
type SignalParams struct {
	EntryThreshold float64 `json:"entry_threshold" yaml:"entry_threshold"`
	ExitThreshold  float64 `json:"exit_threshold" yaml:"exit_threshold"`
	MinSupport     float64 `json:"min_support" yaml:"min_support"`
	HoldMarginMin  float64 `json:"hold_margin_min" yaml:"hold_margin_min"`
	ExitOnFlip     bool    `json:"exit_on_flip" yaml:"exit_on_flip"`
	SLATRMult      float64 `json:"sl_atr_mult" yaml:"sl_atr_mult"`
	TPATRMult      float64 `json:"tp_atr_mult" yaml:"tp_atr_mult"`
	MaxBarsInTrade int     `json:"max_bars_in_trade" yaml:"max_bars_in_trade"`
}

// DefaultSignalParams matches the configuration defaults.
func DefaultSignalParams() SignalParams {
	return SignalParams{
		EntryThreshold: 0.60,
		ExitThreshold:  0.40,
		MinSupport:     0.30,
		HoldMarginMin:  0.05,
		ExitOnFlip:     true,
		SLATRMult:      1.0,
		TPATRMult:      2.0,
		MaxBarsInTrade: 200,
	}
}

// SignalParamsPatch carries a partial update. Nil fields are left untouched.
type SignalParamsPatch struct {
	EntryThreshold *float64 `json:"entry_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	ExitThreshold  *float64 `json:"exit_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	MinSupport     *float64 `json:"min_support,omitempty" validate:"omitempty,gte=0,lte=1"`
	HoldMarginMin  *float64 `json:"hold_margin_min,omitempty" validate:"omitempty,gte=-1,lte=1"`
	ExitOnFlip     *bool    `json:"exit_on_flip,omitempty"`
	SLATRMult      *float64 `json:"sl_atr_mult,omitempty" validate:"omitempty,gt=0"`
	TPATRMult      *float64 `json:"tp_atr_mult,omitempty" validate:"omitempty,gt=0"`
	MaxBarsInTrade *int     `json:"max_bars_in_trade,omitempty" validate:"omitempty,gte=1"`
}

// Apply returns p with the patch merged in.
func (p SignalParams) Apply(patch SignalParamsPatch) SignalParams {
	if patch.EntryThreshold != nil {
		p.EntryThreshold = *patch.EntryThreshold
	}
	if patch.ExitThreshold != nil {
		p.ExitThreshold = *patch.ExitThreshold
	}
	if patch.MinSupport != nil {
		p.MinSupport = *patch.MinSupport
	}
	if patch.HoldMarginMin != nil {
		p.HoldMarginMin = *patch.HoldMarginMin
	}
	if patch.ExitOnFlip != nil {
		p.ExitOnFlip = *patch.ExitOnFlip
	}
	if patch.SLATRMult != nil {
		p.SLATRMult = *patch.SLATRMult
	}
	if patch.TPATRMult != nil {
		p.TPATRMult = *patch.TPATRMult
	}
	if patch.MaxBarsInTrade != nil {
		p.MaxBarsInTrade = *patch.MaxBarsInTrade
	}
	return p
}

// SignalProfiles is the named parameter sets plus the active pointer.
type SignalProfiles struct {
	Profiles map[string]SignalParams `json:"profiles"`
	Active   string                  `json:"active"`
}

// SignalProfilesDocument is the import format of a profile set. It matches the
// exported SignalProfiles; parameters missing from a profile take the defaults.
type SignalProfilesDocument struct {
	Active   string                       `json:"active"`
	Profiles map[string]SignalParamsPatch `json:"profiles" validate:"omitempty,dive"`
}

// Names returns profile names sorted.
func (sp *SignalProfiles) Names() []string {
	names := make([]string, 0, len(sp.Profiles))
	for n := range sp.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Ensure guarantees a non-empty map and a valid active pointer.
func (sp *SignalProfiles) Ensure(defaults SignalParams) {
	if sp.Profiles == nil {
		sp.Profiles = make(map[string]SignalParams)
	}
	if len(sp.Profiles) == 0 {
		sp.Profiles[DefaultProfileName] = defaults
	}
	if _, ok := sp.Profiles[sp.Active]; !ok {
		sp.Active = sp.fallbackActive()
	}
}

// Save creates or replaces a profile.
func (sp *SignalProfiles) Save(name string, params SignalParams) error {
	if name == "" {
		return fmt.Errorf("profile name is required")
	}
	if sp.Profiles == nil {
		sp.Profiles = make(map[string]SignalParams)
	}
	sp.Profiles[name] = params
	return nil
}

// Delete removes a profile. An emptied set gets a fresh default profile and a
// deleted active profile moves the pointer to "default" or the first remaining name.
func (sp *SignalProfiles) Delete(name string, defaults SignalParams) bool {
	if _, ok := sp.Profiles[name]; !ok {
		return false
	}
	delete(sp.Profiles, name)
	if len(sp.Profiles) == 0 {
		sp.Profiles[DefaultProfileName] = defaults
	}
	if sp.Active == name {
		sp.Active = sp.fallbackActive()
	}
	return true
}

// SetActive switches the pointer only if the profile exists.
func (sp *SignalProfiles) SetActive(name string) bool {
	if _, ok := sp.Profiles[name]; !ok {
		return false
	}
	sp.Active = name
	return true
}

// ActiveParams returns the active profile's parameters.
func (sp *SignalProfiles) ActiveParams() (SignalParams, bool) {
	p, ok := sp.Profiles[sp.Active]
	return p, ok
}

func (sp *SignalProfiles) fallbackActive() string {
	if _, ok := sp.Profiles[DefaultProfileName]; ok {
		return DefaultProfileName
	}
	if names := sp.Names(); len(names) > 0 {
		return names[0]
	}
	return DefaultProfileName
}
