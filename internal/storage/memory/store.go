// Package memory is an in-process implementation of the license store.
//
// It gives every conditional operation the same atomic semantics as the
// Postgres store by holding one mutex across the check and the write. It is
// used for tests, local development and the memory database driver.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gmflicense/internal/license"
	"gmflicense/pkg/contracts/domain"
)

// Store keeps licenses, plans, plugins and usage events in maps
type Store struct {
	mu sync.RWMutex

	licenses     map[string]*domain.License // by id
	keys         map[string]string          // key -> id
	plans        map[string]*domain.Plan
	plugins      map[string]*domain.Plugin
	versions     map[string][]domain.PluginVersion // by plugin id, in creation order
	entitlements map[string]*domain.PluginEntitlement
	usage        []domain.UsageEvent

	closed bool
}

// New creates an empty store
func New() *Store {
	return &Store{
		licenses:     make(map[string]*domain.License),
		keys:         make(map[string]string),
		plans:        make(map[string]*domain.Plan),
		plugins:      make(map[string]*domain.Plugin),
		versions:     make(map[string][]domain.PluginVersion),
		entitlements: make(map[string]*domain.PluginEntitlement),
	}
}

// NewSeeded creates a store holding the default product tiers
func NewSeeded() *Store {
	s := New()
	for _, p := range domain.DefaultPlans() {
		p.ID = uuid.NewString()
		s.AddPlan(p)
	}
	return s
}

func entitlementKey(licenseID, pluginID string) string {
	return licenseID + "/" + pluginID
}

func copyLicense(l *domain.License) *domain.License {
	c := *l
	c.Metadata = maps.Clone(l.Metadata)
	if l.CustomerID != nil {
		id := *l.CustomerID
		c.CustomerID = &id
	}
	return &c
}

func copyPlan(p *domain.Plan) *domain.Plan {
	c := *p
	c.Features = maps.Clone(p.Features)
	return &c
}

// ---------------------------------------------------------------------------
// Catalogue
// ---------------------------------------------------------------------------

// AddPlan stores or replaces a plan
func (s *Store) AddPlan(p domain.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = copyPlan(&p)
}

// AddPlugin stores or replaces a plugin
func (s *Store) AddPlugin(p domain.Plugin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := p
	s.plugins[p.ID] = &c
}

// AddPluginVersion appends a released version. The last added version of a
// plugin is its latest.
func (s *Store) AddPluginVersion(v domain.PluginVersion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[v.PluginID] = append(s.versions[v.PluginID], v)
}

// ListPlans returns every plan ordered by token quota
func (s *Store) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, *copyPlan(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tokens < out[j].Tokens })
	return out, nil
}

// ---------------------------------------------------------------------------
// Licenses
// ---------------------------------------------------------------------------

// GetLicenseByKey returns a copy of the license stored under key
func (s *Store) GetLicenseByKey(ctx context.Context, key string) (*domain.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keys[key]
	if !ok {
		return nil, license.ErrLicenseNotFound
	}
	return copyLicense(s.licenses[id]), nil
}

// GetPlan returns a plan by id
func (s *Store) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, license.ErrPlanNotFound
	}
	return copyPlan(p), nil
}

// GetPlanByIdentifier returns a plan by product code
func (s *Store) GetPlanByIdentifier(ctx context.Context, identifier string) (*domain.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Identifier == identifier {
			return copyPlan(p), nil
		}
	}
	return nil, license.ErrPlanNotFound
}

// CreateLicense inserts l. A duplicate key yields ErrAlreadyEntitled.
func (s *Store) CreateLicense(ctx context.Context, l *domain.License) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[l.Key]; ok {
		return license.ErrAlreadyEntitled
	}
	if _, ok := s.plans[l.PlanID]; !ok {
		return license.ErrPlanNotFound
	}
	s.licenses[l.ID] = copyLicense(l)
	s.keys[l.Key] = l.ID
	return nil
}

// ListLicenses returns a page of licenses, newest first, and the total match count
func (s *Store) ListLicenses(ctx context.Context, filter domain.LicenseFilter) ([]domain.License, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.License, 0, len(s.licenses))
	for _, l := range s.licenses {
		if filter.Status != nil && l.Status != *filter.Status {
			continue
		}
		if filter.PlanID != "" && l.PlanID != filter.PlanID {
			continue
		}
		matched = append(matched, *copyLicense(l))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Key < matched[j].Key
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total, nil
}

// ExpireLicense moves an ACTIVE license whose expiration has passed to EXPIRED
func (s *Store) ExpireLicense(ctx context.Context, id string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[id]
	if !ok {
		return false, license.ErrLicenseNotFound
	}
	if l.Status != domain.LicenseStatusActive || !l.ExpiredAt(now) {
		return false, nil
	}
	l.Status = domain.LicenseStatusExpired
	l.UpdatedAt = now
	return true, nil
}

// RevokeLicense moves an ACTIVE license to REVOKED
func (s *Store) RevokeLicense(ctx context.Context, id string) (*domain.License, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[id]
	if !ok {
		return nil, license.ErrLicenseNotFound
	}
	if l.Status != domain.LicenseStatusActive {
		return nil, license.ErrInvalidState
	}
	l.Status = domain.LicenseStatusRevoked
	l.UpdatedAt = time.Now().UTC()
	return copyLicense(l), nil
}

// DecrementTokens subtracts amount from an ACTIVE license holding enough tokens
func (s *Store) DecrementTokens(ctx context.Context, id string, amount int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[id]
	switch {
	case !ok:
		return 0, license.ErrLicenseNotFound
	case l.Status == domain.LicenseStatusRevoked:
		return 0, license.ErrRevoked
	case l.Status == domain.LicenseStatusExpired:
		return 0, license.ErrExpired
	case l.TokensRemaining < amount:
		return 0, &license.ShortfallError{Available: l.TokensRemaining, Requested: amount}
	}

	l.TokensRemaining -= amount
	l.UpdatedAt = time.Now().UTC()
	return l.TokensRemaining, nil
}

// FindActiveTrial returns an ACTIVE, unexpired trial issued to email
func (s *Store) FindActiveTrial(ctx context.Context, email string, now time.Time) (*domain.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.licenses {
		if l.Status != domain.LicenseStatusActive || l.ExpiredAt(now) {
			continue
		}
		if trial, _ := l.Metadata["isTrial"].(bool); !trial {
			continue
		}
		if owner, _ := l.Metadata["trialCreatedFor"].(string); owner == email {
			return copyLicense(l), nil
		}
	}
	return nil, license.ErrLicenseNotFound
}

// ---------------------------------------------------------------------------
// Plugins
// ---------------------------------------------------------------------------

// GetPlugin returns a plugin by id
func (s *Store) GetPlugin(ctx context.Context, id string) (*domain.Plugin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plugins[id]
	if !ok {
		return nil, license.ErrPluginNotFound
	}
	c := *p
	return &c, nil
}

// LatestPluginVersion returns the most recently added version of a plugin
func (s *Store) LatestPluginVersion(ctx context.Context, pluginID string) (*domain.PluginVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.versions[pluginID]
	if len(versions) == 0 {
		return nil, license.ErrNotFound
	}
	v := versions[len(versions)-1]
	return &v, nil
}

// ListPluginEntitlements returns the grants of a license with the current
// state of their pinned version
func (s *Store) ListPluginEntitlements(ctx context.Context, licenseID string) ([]domain.PluginEntitlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PluginEntitlement, 0)
	for _, e := range s.entitlements {
		if e.LicenseID == licenseID {
			out = append(out, s.hydrate(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetPluginEntitlement returns the grant of one plugin to one license
func (s *Store) GetPluginEntitlement(ctx context.Context, licenseID, pluginID string) (*domain.PluginEntitlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entitlements[entitlementKey(licenseID, pluginID)]
	if !ok {
		return nil, license.ErrNotFound
	}
	out := s.hydrate(e)
	return &out, nil
}

// CreatePluginEntitlement inserts a grant. The (license, plugin) pair is unique.
func (s *Store) CreatePluginEntitlement(ctx context.Context, e *domain.PluginEntitlement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := entitlementKey(e.LicenseID, e.PluginID)
	if _, ok := s.entitlements[k]; ok {
		return license.ErrAlreadyEntitled
	}
	c := *e
	if e.ExpirationDate != nil {
		exp := *e.ExpirationDate
		c.ExpirationDate = &exp
	}
	s.entitlements[k] = &c
	return nil
}

// hydrate joins the plugin name and version activity onto a grant. Callers hold mu.
func (s *Store) hydrate(e *domain.PluginEntitlement) domain.PluginEntitlement {
	out := *e
	if e.ExpirationDate != nil {
		exp := *e.ExpirationDate
		out.ExpirationDate = &exp
	}
	if p, ok := s.plugins[e.PluginID]; ok {
		out.PluginName = p.Name
	}
	for _, v := range s.versions[e.PluginID] {
		if v.ID == e.VersionID {
			out.Version = v.Version
			out.VersionActive = v.IsActive
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Usage
// ---------------------------------------------------------------------------

// AppendUsage appends one event
func (s *Store) AppendUsage(ctx context.Context, e *domain.UsageEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *e
	c.Metadata = maps.Clone(e.Metadata)
	if e.Tokens != nil {
		n := *e.Tokens
		c.Tokens = &n
	}
	s.usage = append(s.usage, c)
	return nil
}

// ListUsage returns up to limit events for a license, newest first
func (s *Store) ListUsage(ctx context.Context, licenseID string, limit int) ([]domain.UsageEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UsageEvent, 0)
	for i := len(s.usage) - 1; i >= 0; i-- {
		if s.usage[i].LicenseID != licenseID {
			continue
		}
		out = append(out, s.usage[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Ping fails once the store is closed
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

// Close marks the store unavailable
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
