package perm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Waesta/Wapos-sub010/internal/ids"
)

// Memory implements Store with in-process concurrency safety. Used by tests
// and local development; production deployments use the Postgres adapter.
type Memory struct {
	mu          sync.RWMutex
	modules     map[ModuleKey]Module
	actions     map[ActionKey]Action
	edges       map[string]ModuleAction
	roles       map[string]string // userID -> role
	groups      map[string]Group
	groupPerms  map[string]GroupPermission // group:module:action
	memberships map[string]Membership      // user:group
	individual  map[string]IndividualPermission
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		modules:     make(map[ModuleKey]Module),
		actions:     make(map[ActionKey]Action),
		edges:       make(map[string]ModuleAction),
		roles:       make(map[string]string),
		groups:      make(map[string]Group),
		groupPerms:  make(map[string]GroupPermission),
		memberships: make(map[string]Membership),
		individual:  make(map[string]IndividualPermission),
	}
}

// SetUserRole records the user's role for role-bypass resolution.
func (s *Memory) SetUserRole(userID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = role
}

func (s *Memory) ListModules(ctx context.Context) ([]Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Module, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

func (s *Memory) ListActions(ctx context.Context) ([]Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Action, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Memory) ListModuleActions(ctx context.Context, module ModuleKey) ([]Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.modules[module]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	var out []Action
	for _, e := range s.edges {
		if e.Module != module {
			continue
		}
		if a, ok := s.actions[e.Action]; ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Memory) ModuleActionExists(ctx context.Context, module ModuleKey, action ActionKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[edgeKey(module, action)]
	return ok, nil
}

func (s *Memory) SeedCatalog(ctx context.Context, modules []Module, actions []Action, edges []ModuleAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range modules {
		if existing, ok := s.modules[m.Key]; ok {
			// active flag is operator-owned after first provisioning
			m.Active = existing.Active
		}
		s.modules[m.Key] = m
	}
	for _, a := range actions {
		s.actions[a.Key] = a
	}
	for _, e := range edges {
		s.edges[edgeKey(e.Module, e.Action)] = e
	}
	return nil
}

func (s *Memory) UserRole(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[userID]
	if !ok {
		return "", fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return role, nil
}

func (s *Memory) GroupGrants(ctx context.Context, userID string, now time.Time) ([]GroupPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []GroupPermission
	for _, m := range s.memberships {
		if m.UserID != userID || !m.Effective(now) {
			continue
		}
		g, ok := s.groups[m.GroupID]
		if !ok || !g.Active {
			continue
		}
		for _, gp := range s.groupPerms {
			if gp.GroupID == m.GroupID {
				out = append(out, gp)
			}
		}
	}
	return out, nil
}

func (s *Memory) IndividualGrants(ctx context.Context, userID string) ([]IndividualPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []IndividualPermission
	for _, p := range s.individual {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Memory) UpsertIndividual(ctx context.Context, p IndividualPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.Join([]string{p.UserID, string(p.Module), string(p.Action)}, ":")
	if existing, ok := s.individual[key]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		if p.ID == "" {
			p.ID = ids.New()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
	}
	p.UpdatedAt = time.Now().UTC()
	s.individual[key] = p
	return nil
}

func (s *Memory) DeleteIndividual(ctx context.Context, userID string, module ModuleKey, action ActionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.Join([]string{userID, string(module), string(action)}, ":")
	if _, ok := s.individual[key]; !ok {
		return ErrNotFound
	}
	delete(s.individual, key)
	return nil
}

func (s *Memory) PurgeExpiredIndividual(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, p := range s.individual {
		// same boundary as Expired: expiry at the purge instant is already inert
		if p.ExpiresAt != nil && !p.ExpiresAt.After(before) {
			delete(s.individual, key)
			n++
		}
	}
	return n, nil
}

func (s *Memory) CreateGroup(ctx context.Context, g Group) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.groups {
		if existing.Name == g.Name {
			return Group{}, ErrConflict
		}
	}
	if g.ID == "" {
		g.ID = ids.New()
	}
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now
	s.groups[g.ID] = g
	return g, nil
}

func (s *Memory) ListGroups(ctx context.Context) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Memory) GetGroup(ctx context.Context, groupID string) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return Group{}, ErrNotFound
	}
	return g, nil
}

func (s *Memory) UpsertGroupPermission(ctx context.Context, gp GroupPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[gp.GroupID]; !ok {
		return ErrNotFound
	}
	key := strings.Join([]string{gp.GroupID, string(gp.Module), string(gp.Action)}, ":")
	if existing, ok := s.groupPerms[key]; ok {
		gp.CreatedAt = existing.CreatedAt
	} else if gp.CreatedAt.IsZero() {
		gp.CreatedAt = time.Now().UTC()
	}
	s.groupPerms[key] = gp
	return nil
}

func (s *Memory) DeleteGroupPermission(ctx context.Context, groupID string, module ModuleKey, action ActionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.Join([]string{groupID, string(module), string(action)}, ":")
	if _, ok := s.groupPerms[key]; !ok {
		return ErrNotFound
	}
	delete(s.groupPerms, key)
	return nil
}

func (s *Memory) UpsertMembership(ctx context.Context, m Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[m.GroupID]; !ok {
		return ErrNotFound
	}
	key := m.UserID + ":" + m.GroupID
	if existing, ok := s.memberships[key]; ok {
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
	} else {
		if m.ID == "" {
			m.ID = ids.New()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
	}
	m.UpdatedAt = time.Now().UTC()
	s.memberships[key] = m
	return nil
}

func (s *Memory) DeactivateMembership(ctx context.Context, userID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userID + ":" + groupID
	m, ok := s.memberships[key]
	if !ok {
		return ErrNotFound
	}
	m.IsActive = false
	m.UpdatedAt = time.Now().UTC()
	s.memberships[key] = m
	return nil
}

func edgeKey(m ModuleKey, a ActionKey) string {
	return string(m) + ":" + string(a)
}
