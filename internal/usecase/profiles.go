package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
	domrepo "MTFTrader/internal/domain/repository"
	applogger "MTFTrader/pkg/logger"
)

// Settings keys holding the named signal profiles and the active pointer.
const (
	SettingProfiles      = "signal_profiles"
	SettingActiveProfile = "signal_profile_active"
)

// ProfilesService manages named SignalParams sets in the settings store.
type ProfilesService struct {
	settings domrepo.SettingsStore
	defaults models.SignalParams
	l        *applogger.Logger
	mu       sync.Mutex
}

func NewProfilesService(settings domrepo.SettingsStore, defaults models.SignalParams, l *applogger.Logger) *ProfilesService {
	return &ProfilesService{settings: settings, defaults: defaults, l: l}
}

// Defaults returns the configured parameters new profiles start from.
func (s *ProfilesService) Defaults() models.SignalParams { return s.defaults }

// List returns every profile and the active name.
func (s *ProfilesService) List(ctx context.Context) (models.SignalProfiles, error) {
	return s.load(ctx)
}

// Save creates or patches a profile. A new profile starts from the defaults.
func (s *ProfilesService) Save(ctx context.Context, name string, patch models.SignalParamsPatch) (models.SignalParams, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, err := s.load(ctx)
	if err != nil {
		return models.SignalParams{}, err
	}
	base, ok := sp.Profiles[name]
	if !ok {
		base = s.defaults
	}
	params := base.Apply(patch)
	if err := sp.Save(name, params); err != nil {
		return models.SignalParams{}, apperr.Invalid("profiles.Save", "%v", err)
	}
	if err := s.store(ctx, sp); err != nil {
		return models.SignalParams{}, err
	}
	s.l.Info("signal profile saved", applogger.String("name", name), applogger.Bool("created", !ok))
	return params, nil
}

// Delete removes a profile. Deleting the last one recreates "default".
func (s *ProfilesService) Delete(ctx context.Context, name string) (models.SignalProfiles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, err := s.load(ctx)
	if err != nil {
		return sp, err
	}
	if !sp.Delete(name, s.defaults) {
		return sp, apperr.Unavailable("profiles.Delete", "profile %q not found", name)
	}
	if err := s.store(ctx, sp); err != nil {
		return sp, err
	}
	s.l.Info("signal profile deleted", applogger.String("name", name), applogger.String("active", sp.Active))
	return sp, nil
}

// Activate moves the active pointer to an existing profile.
func (s *ProfilesService) Activate(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, err := s.load(ctx)
	if err != nil {
		return err
	}
	if !sp.SetActive(name) {
		return apperr.Unavailable("profiles.Activate", "profile %q not found", name)
	}
	return s.settings.PutSetting(ctx, SettingActiveProfile, sp.Active)
}

// ActiveParams returns the active profile's parameters. Fields missing from
// the stored profile keep their default values.
func (s *ProfilesService) ActiveParams(ctx context.Context) (models.SignalParams, error) {
	sp, err := s.load(ctx)
	if err != nil {
		return s.defaults, err
	}
	p, _ := sp.ActiveParams()
	return p, nil
}

// Export returns the full profile set in the form Import accepts.
func (s *ProfilesService) Export(ctx context.Context) (models.SignalProfiles, error) {
	return s.load(ctx)
}

// Import loads a profile set. Without merge it replaces every profile. With
// merge it adds new profiles and replaces existing ones only when overwrite
// is set. The active pointer moves to the imported active profile if that
// exists afterwards.
func (s *ProfilesService) Import(ctx context.Context, doc models.SignalProfilesDocument, merge, overwrite bool) (models.SignalProfiles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, err := s.load(ctx)
	if err != nil {
		return sp, err
	}
	if !merge {
		sp.Profiles = make(map[string]models.SignalParams, len(doc.Profiles))
	}
	added := 0
	for name, patch := range doc.Profiles {
		if name == "" {
			continue
		}
		if _, exists := sp.Profiles[name]; exists && merge && !overwrite {
			continue
		}
		if err := sp.Save(name, s.defaults.Apply(patch)); err != nil {
			return sp, apperr.Invalid("profiles.Import", "%v", err)
		}
		added++
	}
	if !sp.SetActive(doc.Active) && !merge {
		sp.Active = ""
	}
	sp.Ensure(s.defaults)
	if err := s.store(ctx, sp); err != nil {
		return sp, err
	}
	s.l.Info("signal profiles imported",
		applogger.Int("written", added),
		applogger.Bool("merge", merge),
		applogger.Bool("overwrite", overwrite),
		applogger.String("active", sp.Active),
	)
	return sp, nil
}

func (s *ProfilesService) load(ctx context.Context) (models.SignalProfiles, error) {
	var raw map[string]json.RawMessage
	if _, err := s.settings.GetSetting(ctx, SettingProfiles, &raw); err != nil {
		return models.SignalProfiles{}, fmt.Errorf("load profiles: %w", err)
	}
	sp := models.SignalProfiles{Profiles: make(map[string]models.SignalParams, len(raw))}
	for name, body := range raw {
		p := s.defaults
		if err := json.Unmarshal(body, &p); err != nil {
			s.l.Warn("skipping unreadable signal profile", applogger.String("name", name), applogger.Error(err))
			continue
		}
		sp.Profiles[name] = p
	}
	if _, err := s.settings.GetSetting(ctx, SettingActiveProfile, &sp.Active); err != nil {
		return models.SignalProfiles{}, fmt.Errorf("load active profile: %w", err)
	}
	sp.Ensure(s.defaults)
	return sp, nil
}

func (s *ProfilesService) store(ctx context.Context, sp models.SignalProfiles) error {
	if err := s.settings.PutSetting(ctx, SettingProfiles, sp.Profiles); err != nil {
		return fmt.Errorf("store profiles: %w", err)
	}
	if err := s.settings.PutSetting(ctx, SettingActiveProfile, sp.Active); err != nil {
		return fmt.Errorf("store active profile: %w", err)
	}
	return nil
}
