// Package memory holds in-process implementations of every store. It backs
// single-node deployments and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"MTFTrader/internal/domain/apperr"
	"MTFTrader/internal/domain/models"
)

type seriesKey struct {
	symbol string
	tf     models.Timeframe
}

// Store implements the model, param, trade, job, settings and bot stores.
type Store struct {
	mu       sync.RWMutex
	bundles  map[seriesKey]models.ModelBundle
	tuned    map[seriesKey]models.TunedParams
	trades   []*models.Trade
	jobs     map[string]*models.TrainingJob
	jobLogs  map[string][]models.JobLog
	settings map[string][]byte
	bots     map[string]models.BotStatus
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		bundles:  make(map[seriesKey]models.ModelBundle),
		tuned:    make(map[seriesKey]models.TunedParams),
		jobs:     make(map[string]*models.TrainingJob),
		jobLogs:  make(map[string][]models.JobLog),
		settings: make(map[string][]byte),
		bots:     make(map[string]models.BotStatus),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ModelStore

func (s *Store) SaveModel(_ context.Context, bundle *models.ModelBundle) error {
	if bundle == nil {
		return apperr.Invalid("save model", "nil bundle")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[seriesKey{bundle.Symbol, bundle.Timeframe}] = *bundle
	return nil
}

func (s *Store) LoadModel(_ context.Context, symbol string, tf models.Timeframe) (*models.ModelBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[seriesKey{symbol, tf}]
	if !ok {
		return nil, apperr.Unavailable("load model", "no model for %s %s", symbol, tf)
	}
	return &b, nil
}

func (s *Store) UpdateModelMetrics(_ context.Context, symbol string, tf models.Timeframe, patch models.ModelMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seriesKey{symbol, tf}
	b, ok := s.bundles[k]
	if !ok {
		return apperr.Unavailable("update model metrics", "no model for %s %s", symbol, tf)
	}
	b.Metrics = b.Metrics.Merge(patch)
	s.bundles[k] = b
	return nil
}

// ParamStore

func (s *Store) SaveTunedParams(_ context.Context, tuned models.TunedParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tuned[seriesKey{tuned.Symbol, tuned.Timeframe}] = tuned
	return nil
}

func (s *Store) TunedParams(_ context.Context, symbol string, tf models.Timeframe) (*models.TunedParams, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.tuned[seriesKey{symbol, tf}]
	if !ok {
		return nil, apperr.Unavailable("tuned params", "nothing tuned for %s %s", symbol, tf)
	}
	return &p, nil
}

// TradeStore

// AddTrade stores t and assigns an id when empty. A second open trade for the
// same (symbol, network) is a conflict.
func (s *Store) AddTrade(_ context.Context, t *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.IsOpen() {
		for _, o := range s.trades {
			if o.IsOpen() && o.Symbol == t.Symbol && o.Network == t.Network {
				return apperr.Conflict("add trade", "open trade exists for %s on %s", t.Symbol, t.Network)
			}
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	cp := *t
	s.trades = append(s.trades, &cp)
	return nil
}

func (s *Store) OpenTrades(_ context.Context, symbol, network string) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Trade
	for _, t := range s.trades {
		if t.IsOpen() && t.Symbol == symbol && t.Network == network {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) CloseAllOpen(_ context.Context, symbol, network string, price float64, at time.Time, reason models.ExitReason) ([]models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var closed []models.Trade
	for _, t := range s.trades {
		if t.Symbol != symbol || t.Network != network {
			continue
		}
		if t.Close(price, at, reason) {
			closed = append(closed, *t)
		}
	}
	return closed, nil
}

// ListTrades returns matching trades, newest entry first.
func (s *Store) ListTrades(_ context.Context, f models.TradeFilter) ([]models.Trade, error) {
	s.mu.RLock()
	out := make([]models.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		if f.Symbol != "" && t.Symbol != f.Symbol {
			continue
		}
		if f.Network != "" && t.Network != f.Network {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		out = append(out, *t)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].EntryTime.After(out[j].EntryTime) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// JobStore

func (s *Store) CreateJob(_ context.Context, job *models.TrainingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, dup := s.jobs[job.ID]; dup {
		return apperr.Conflict("create job", "job %s exists", job.ID)
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	cp := *job
	cp.Timeframes = append([]models.Timeframe(nil), job.Timeframes...)
	s.jobs[job.ID] = &cp
	return nil
}

// UpdateJob rejects transitions out of a terminal status.
func (s *Store) UpdateJob(_ context.Context, id string, status models.JobStatus, progress float64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return apperr.Unavailable("update job", "job %s not found", id)
	}
	if j.Status.Terminal() && j.Status != status {
		return apperr.Conflict("update job", "job %s is %s", id, j.Status)
	}
	j.Status = status
	j.Progress = progress
	j.Message = message
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) GetJob(_ context.Context, id string) (*models.TrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, apperr.Unavailable("get job", "job %s not found", id)
	}
	cp := *j
	return &cp, nil
}

func (s *Store) ActiveJob(_ context.Context, symbol string) (*models.TrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.TrainingJob
	for _, j := range s.jobs {
		if j.Symbol != symbol || j.Status.Terminal() {
			continue
		}
		if best == nil || j.CreatedAt.After(best.CreatedAt) {
			best = j
		}
	}
	if best == nil {
		return nil, apperr.Unavailable("active job", "no active job for %s", symbol)
	}
	cp := *best
	return &cp, nil
}

func (s *Store) AppendLog(_ context.Context, entry models.JobLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.TS.IsZero() {
		entry.TS = s.now()
	}
	s.jobLogs[entry.JobID] = append(s.jobLogs[entry.JobID], entry)
	return nil
}

// Logs returns the last limit entries, oldest first.
func (s *Store) Logs(_ context.Context, jobID string, limit int) ([]models.JobLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := s.jobLogs[jobID]
	if limit > 0 && len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	return append([]models.JobLog(nil), logs...), nil
}

// SettingsStore

func (s *Store) GetSetting(_ context.Context, key string, dest any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.settings[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) PutSetting(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	s.mu.Lock()
	s.settings[key] = raw
	s.mu.Unlock()
	return nil
}

// BotStore

func (s *Store) SaveBotStatus(_ context.Context, st models.BotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.bots[st.Symbol]; ok && st.Stats == nil {
		st.Stats = prev.Stats
	}
	st.UpdatedAt = s.now()
	s.bots[st.Symbol] = st
	return nil
}

// UpdateBotStats merges stats into the stored map.
func (s *Store) UpdateBotStats(_ context.Context, symbol string, stats map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.bots[symbol]
	if !ok {
		st = models.BotStatus{Symbol: symbol, Status: models.BotStopped}
	}
	merged := make(map[string]any, len(st.Stats)+len(stats))
	for k, v := range st.Stats {
		merged[k] = v
	}
	for k, v := range stats {
		merged[k] = v
	}
	st.Stats = merged
	st.UpdatedAt = s.now()
	s.bots[symbol] = st
	return nil
}

func (s *Store) ListBots(_ context.Context) ([]models.BotStatus, error) {
	s.mu.RLock()
	out := make([]models.BotStatus, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, b)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
