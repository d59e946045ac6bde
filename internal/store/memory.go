package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saveflow/internal/model"
)

// MemoryStore is an in-memory Store for tests and `--driver memory` local
// runs. It enforces the same one-live-attempt-per-customer constraint the SQL
// backends enforce with a partial unique index.
type MemoryStore struct {
	mu            sync.RWMutex
	attempts      map[string]*model.SaveAttempt
	configs       map[string]*model.SaveFlowConfiguration
	interventions map[string]*model.Intervention // keyed by attempt ID
	subscriptions []*model.Subscription
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		attempts:      make(map[string]*model.SaveAttempt),
		configs:       make(map[string]*model.SaveFlowConfiguration),
		interventions: make(map[string]*model.Intervention),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                      { return nil }

func (s *MemoryStore) CreateAttempt(ctx context.Context, a *model.SaveAttempt, iv *model.Intervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.attempts {
		if existing.TenantID == a.TenantID && existing.CustomerID == a.CustomerID && !existing.Terminal() {
			return eris.Errorf("memory: live attempt already exists for customer %s", a.CustomerID)
		}
	}

	ac := cloneAttempt(a)
	s.attempts[a.ID] = ac
	ivc := *iv
	s.interventions[iv.AttemptID] = &ivc
	return nil
}

func (s *MemoryStore) FindAttempt(ctx context.Context, id string) (*model.SaveAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil, nil
	}
	return cloneAttempt(a), nil
}

func (s *MemoryStore) FindNonTerminalAttempt(ctx context.Context, tenantID, customerID string) (*model.SaveAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.attempts {
		if a.TenantID == tenantID && a.CustomerID == customerID && !a.Terminal() {
			return cloneAttempt(a), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) UpdateAttemptProgress(ctx context.Context, id string, upd ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok {
		return eris.Errorf("memory: attempt %s not found", id)
	}
	a.CurrentStage = upd.CurrentStage
	a.StageHistory = append([]model.StageHistoryEntry(nil), upd.StageHistory...)
	a.CancellationReason = upd.CancellationReason
	a.ReasonCategory = upd.ReasonCategory
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CompleteAttempt(ctx context.Context, id string, c Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok {
		return eris.Errorf("memory: attempt %s not found", id)
	}
	now := time.Now().UTC()

	a.Outcome = c.Outcome
	a.SavedBy = c.SavedBy
	a.OfferAccepted = c.OfferAccepted
	if c.CancellationReason != "" {
		a.CancellationReason = c.CancellationReason
	}
	if c.ReasonCategory != "" {
		a.ReasonCategory = c.ReasonCategory
	}
	a.RevenuePreserved = c.RevenuePreserved
	completedAt := c.CompletedAt
	a.CompletedAt = &completedAt
	a.StageHistory = append([]model.StageHistoryEntry(nil), c.StageHistory...)
	a.UpdatedAt = now

	if iv, ok := s.interventions[id]; ok {
		iv.Status = model.InterventionCompleted
		iv.Outcome = c.InterventionOutcome
		iv.RevenueImpact = c.RevenuePreserved
		iv.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) QueryAttempts(ctx context.Context, filter AttemptFilter) ([]model.SaveAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.SaveAttempt
	for _, a := range s.attempts {
		if filter.TenantID != "" && a.TenantID != filter.TenantID {
			continue
		}
		if filter.CustomerID != "" && a.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Outcome != "" && a.Outcome != filter.Outcome {
			continue
		}
		if !filter.Since.IsZero() && a.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, *cloneAttempt(a))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) GetFlowConfig(ctx context.Context, tenantID string) (*model.SaveFlowConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) UpsertFlowConfig(ctx context.Context, cfg *model.SaveFlowConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *cfg
	s.configs[cfg.TenantID] = &cp
	return nil
}

func (s *MemoryStore) ListOpenInterventions(ctx context.Context) ([]model.Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Intervention
	for _, iv := range s.interventions {
		if iv.Status != model.InterventionCompleted {
			out = append(out, *iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CompleteIntervention(ctx context.Context, attemptID, outcome string, revenueImpact float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv, ok := s.interventions[attemptID]
	if !ok {
		return eris.Errorf("memory: intervention for attempt %s not found", attemptID)
	}
	iv.Status = model.InterventionCompleted
	iv.Outcome = outcome
	iv.RevenueImpact = revenueImpact
	iv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sub
	s.subscriptions = append(s.subscriptions, &cp)
	return nil
}

func (s *MemoryStore) FindActiveSubscription(ctx context.Context, tenantID, customerID string) (*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.TenantID == tenantID && sub.CustomerID == customerID && sub.Status == model.SubscriptionActive {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
}

// Intervention returns the intervention paired with an attempt; test helper.
func (s *MemoryStore) Intervention(attemptID string) *model.Intervention {
	s.mu.RLock()
	defer s.mu.RUnlock()

	iv, ok := s.interventions[attemptID]
	if !ok {
		return nil
	}
	cp := *iv
	return &cp
}

// AttemptCount reports the number of stored attempts; test helper.
func (s *MemoryStore) AttemptCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attempts)
}

func cloneAttempt(a *model.SaveAttempt) *model.SaveAttempt {
	cp := *a
	cp.StageHistory = append([]model.StageHistoryEntry(nil), a.StageHistory...)
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
