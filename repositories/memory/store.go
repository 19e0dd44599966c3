// Package memory implements the repository interfaces on in-process maps.
// It is used by service tests and by STORE_DRIVER=memory for local runs.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/repositories"
)

// Store holds every collection behind one lock, which makes each repository
// call atomic with respect to the others.
type Store struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]models.User
	services map[uuid.UUID]models.Service
	roles    map[uuid.UUID]models.Role
	grants   map[uuid.UUID]models.Grant
	tokens   map[uuid.UUID]models.Token
	audit    []models.AuditLog

	txMu sync.Mutex
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		users:    make(map[uuid.UUID]models.User),
		services: make(map[uuid.UUID]models.Service),
		roles:    make(map[uuid.UUID]models.Role),
		grants:   make(map[uuid.UUID]models.Grant),
		tokens:   make(map[uuid.UUID]models.Token),
	}
}

// Repositories returns repository views over the store
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Users:     &userRepository{s},
		Services:  &serviceRepository{s},
		Roles:     &roleRepository{s},
		Grants:    &grantRepository{s},
		Tokens:    &tokenRepository{s},
		AuditLogs: &auditRepository{s},
	}
}

// TransactionManager returns a transaction manager bound to the store
func (s *Store) TransactionManager() repositories.TransactionManager {
	return &transactionManager{s}
}

// put and drop are the only writers of the keyed collections. Inside a
// transaction they journal the previous value so Rollback undoes exactly the
// transaction's own writes. Callers hold s.mu.
func put[V any](ctx context.Context, s *Store, m map[uuid.UUID]V, id uuid.UUID, v V) {
	s.journal(ctx, m, id)
	m[id] = v
}

func drop[V any](ctx context.Context, s *Store, m map[uuid.UUID]V, id uuid.UUID) {
	s.journal(ctx, m, id)
	delete(m, id)
}

func journalEntry[V any](m map[uuid.UUID]V, id uuid.UUID) func() {
	prev, existed := m[id]
	return func() {
		if existed {
			m[id] = prev
		} else {
			delete(m, id)
		}
	}
}

func (s *Store) journal(ctx context.Context, m any, id uuid.UUID) {
	tx, ok := ctx.Value(txContextKey{}).(*transaction)
	if !ok || tx.s != s || tx.done {
		return
	}
	var undo func()
	switch m := m.(type) {
	case map[uuid.UUID]models.User:
		undo = journalEntry(m, id)
	case map[uuid.UUID]models.Service:
		undo = journalEntry(m, id)
	case map[uuid.UUID]models.Role:
		undo = journalEntry(m, id)
	case map[uuid.UUID]models.Grant:
		undo = journalEntry(m, id)
	case map[uuid.UUID]models.Token:
		undo = journalEntry(m, id)
	default:
		return
	}
	tx.undo = append(tx.undo, undo)
}

// Copy helpers keep callers from aliasing stored slices and maps.

func cloneUser(u models.User) *models.User {
	prefs := make(map[string]string, len(u.Metadata.Preferences))
	for k, v := range u.Metadata.Preferences {
		prefs[k] = v
	}
	u.Metadata.Preferences = prefs
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		u.LastLoginAt = &t
	}
	return &u
}

func cloneService(s models.Service) *models.Service {
	s.Config.AllowedOrigins = append([]string{}, s.Config.AllowedOrigins...)
	return &s
}

func cloneRole(r models.Role) *models.Role {
	r.Permissions = append([]string{}, r.Permissions...)
	if r.ServiceID != nil {
		id := *r.ServiceID
		r.ServiceID = &id
	}
	return &r
}

func cloneGrant(g models.Grant) *models.Grant {
	g.RoleIDs = append([]uuid.UUID{}, g.RoleIDs...)
	if g.Data != nil {
		g.Data = append(json.RawMessage{}, g.Data...)
	}
	if g.ServiceID != nil {
		id := *g.ServiceID
		g.ServiceID = &id
	}
	return &g
}

func sameService(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func page[T any](items []T, opts repositories.ListOptions) []T {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if opts.Offset >= len(items) {
		return []T{}
	}
	end := opts.Offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[opts.Offset:end]
}

// users

type userRepository struct{ s *Store }

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.Username == user.Username {
			return &repositories.DuplicateError{Field: "username"}
		}
		if strings.EqualFold(u.Email, user.Email) {
			return &repositories.DuplicateError{Field: "email"}
		}
	}
	put(ctx, r.s, r.s.users, user.ID, *cloneUser(*user))
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *userRepository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.Username == login || strings.EqualFold(u.Email, login) {
			return cloneUser(u), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *userRepository) List(ctx context.Context, opts repositories.ListOptions) ([]*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	all := make([]*models.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		all = append(all, cloneUser(u))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, opts), nil
}

func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.users[user.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	user.UpdatedAt = time.Now().UTC()
	cur.Name = user.Name
	cur.IsVerified = user.IsVerified
	cur.Status = user.Status
	cur.Metadata = user.Metadata
	cur.UpdatedAt = user.UpdatedAt
	put(ctx, r.s, r.s.users, user.ID, *cloneUser(cur))
	return nil
}

func (r *userRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.users[id]
	if !ok {
		return repositories.ErrNotFound
	}
	cur.PasswordHash = passwordHash
	cur.UpdatedAt = time.Now().UTC()
	put(ctx, r.s, r.s.users, id, cur)
	return nil
}

func (r *userRepository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.users[id]
	if !ok {
		return repositories.ErrNotFound
	}
	cur.LastLoginAt = &at
	put(ctx, r.s, r.s.users, id, cur)
	return nil
}

func (r *userRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[id]; !ok {
		return repositories.ErrNotFound
	}
	drop(ctx, r.s, r.s.users, id)
	for gid, g := range r.s.grants {
		if g.UserID == id {
			drop(ctx, r.s, r.s.grants, gid)
		}
	}
	for tid, t := range r.s.tokens {
		if t.UserID == id {
			drop(ctx, r.s, r.s.tokens, tid)
		}
	}
	return nil
}

// services

type serviceRepository struct{ s *Store }

func (r *serviceRepository) Create(ctx context.Context, service *models.Service) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, svc := range r.s.services {
		if svc.Name == service.Name {
			return &repositories.DuplicateError{Field: "name"}
		}
		if svc.APIKey == service.APIKey {
			return &repositories.DuplicateError{Field: "api_key"}
		}
	}
	put(ctx, r.s, r.s.services, service.ID, *cloneService(*service))
	return nil
}

func (r *serviceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	svc, ok := r.s.services[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return cloneService(svc), nil
}

func (r *serviceRepository) GetByAPIKey(ctx context.Context, apiKey string) (*models.Service, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, svc := range r.s.services {
		if svc.APIKey == apiKey {
			return cloneService(svc), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *serviceRepository) List(ctx context.Context, opts repositories.ListOptions) ([]*models.Service, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	all := make([]*models.Service, 0, len(r.s.services))
	for _, svc := range r.s.services {
		all = append(all, cloneService(svc))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return page(all, opts), nil
}

func (r *serviceRepository) Update(ctx context.Context, service *models.Service) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.services[service.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	for id, svc := range r.s.services {
		if id != service.ID && svc.Name == service.Name {
			return &repositories.DuplicateError{Field: "name"}
		}
	}
	service.UpdatedAt = time.Now().UTC()
	cur.Name = service.Name
	cur.Description = service.Description
	cur.IsActive = service.IsActive
	cur.Config = service.Config
	cur.UpdatedAt = service.UpdatedAt
	put(ctx, r.s, r.s.services, service.ID, *cloneService(cur))
	return nil
}

func (r *serviceRepository) RotateCredentials(ctx context.Context, id uuid.UUID, apiKey, apiSecretHash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.services[id]
	if !ok {
		return repositories.ErrNotFound
	}
	for other, svc := range r.s.services {
		if other != id && svc.APIKey == apiKey {
			return &repositories.DuplicateError{Field: "api_key"}
		}
	}
	cur.APIKey = apiKey
	cur.APISecretHash = apiSecretHash
	cur.UpdatedAt = time.Now().UTC()
	put(ctx, r.s, r.s.services, id, cur)
	return nil
}

func (r *serviceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.services[id]; !ok {
		return repositories.ErrNotFound
	}
	drop(ctx, r.s, r.s.services, id)
	for rid, role := range r.s.roles {
		if role.ServiceID != nil && *role.ServiceID == id {
			drop(ctx, r.s, r.s.roles, rid)
		}
	}
	for gid, g := range r.s.grants {
		if g.ServiceID != nil && *g.ServiceID == id {
			drop(ctx, r.s, r.s.grants, gid)
		}
	}
	return nil
}

// roles

type roleRepository struct{ s *Store }

func (r *roleRepository) nameTaken(role *models.Role) bool {
	for id, existing := range r.s.roles {
		if id != role.ID && existing.Name == role.Name && sameService(existing.ServiceID, role.ServiceID) {
			return true
		}
	}
	return false
}

func (r *roleRepository) Create(ctx context.Context, role *models.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if role.ServiceID != nil {
		if _, ok := r.s.services[*role.ServiceID]; !ok {
			return repositories.ErrNotFound
		}
	}
	if r.nameTaken(role) {
		return &repositories.DuplicateError{Field: "name"}
	}
	put(ctx, r.s, r.s.roles, role.ID, *cloneRole(*role))
	return nil
}

func (r *roleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	role, ok := r.s.roles[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return cloneRole(role), nil
}

func (r *roleRepository) GetGlobalByName(ctx context.Context, name string) (*models.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, role := range r.s.roles {
		if role.ServiceID == nil && role.Name == name {
			return cloneRole(role), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *roleRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*models.Role, 0, len(ids))
	for _, id := range ids {
		if role, ok := r.s.roles[id]; ok {
			out = append(out, cloneRole(role))
		}
	}
	return out, nil
}

func (r *roleRepository) List(ctx context.Context, serviceID *uuid.UUID, globalOnly bool, opts repositories.ListOptions) ([]*models.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	all := []*models.Role{}
	for _, role := range r.s.roles {
		switch {
		case serviceID != nil:
			if role.ServiceID == nil || *role.ServiceID != *serviceID {
				continue
			}
		case globalOnly:
			if role.ServiceID != nil {
				continue
			}
		}
		all = append(all, cloneRole(role))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].IsGlobal != all[j].IsGlobal {
			return all[i].IsGlobal
		}
		return all[i].Name < all[j].Name
	})
	return page(all, opts), nil
}

func (r *roleRepository) Update(ctx context.Context, role *models.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.roles[role.ID]; !ok {
		return repositories.ErrNotFound
	}
	if role.ServiceID != nil {
		if _, ok := r.s.services[*role.ServiceID]; !ok {
			return repositories.ErrNotFound
		}
	}
	if r.nameTaken(role) {
		return &repositories.DuplicateError{Field: "name"}
	}
	if role.ServiceID != nil {
		for _, g := range r.s.grants {
			if g.HasRole(role.ID) && !sameService(g.ServiceID, role.ServiceID) {
				return repositories.ErrScopeMismatch
			}
		}
	}
	role.UpdatedAt = time.Now().UTC()
	put(ctx, r.s, r.s.roles, role.ID, *cloneRole(*role))
	return nil
}

func (r *roleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.roles[id]; !ok {
		return repositories.ErrNotFound
	}
	for _, g := range r.s.grants {
		if g.HasRole(id) {
			return repositories.ErrReferenced
		}
	}
	drop(ctx, r.s, r.s.roles, id)
	return nil
}

// grants

type grantRepository struct{ s *Store }

func (r *grantRepository) Create(ctx context.Context, grant *models.Grant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[grant.UserID]; !ok {
		return repositories.ErrNotFound
	}
	if grant.ServiceID != nil {
		if _, ok := r.s.services[*grant.ServiceID]; !ok {
			return repositories.ErrNotFound
		}
	}
	for _, g := range r.s.grants {
		if g.UserID == grant.UserID && sameService(g.ServiceID, grant.ServiceID) {
			return &repositories.DuplicateError{Field: "grant"}
		}
	}
	put(ctx, r.s, r.s.grants, grant.ID, *cloneGrant(*grant))
	return nil
}

func (r *grantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Grant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	g, ok := r.s.grants[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return cloneGrant(g), nil
}

func (r *grantRepository) GetForUser(ctx context.Context, userID uuid.UUID, serviceID *uuid.UUID) (*models.Grant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, g := range r.s.grants {
		if g.UserID == userID && sameService(g.ServiceID, serviceID) {
			return cloneGrant(g), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *grantRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Grant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*models.Grant{}
	for _, g := range r.s.grants {
		if g.UserID == userID {
			out = append(out, cloneGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *grantRepository) ListByService(ctx context.Context, serviceID uuid.UUID, opts repositories.ListOptions) ([]*models.Grant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*models.Grant{}
	for _, g := range r.s.grants {
		if g.ServiceID != nil && *g.ServiceID == serviceID {
			out = append(out, cloneGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, opts), nil
}

func (r *grantRepository) Update(ctx context.Context, grant *models.Grant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.grants[grant.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	grant.UpdatedAt = time.Now().UTC()
	cur.RoleIDs = grant.RoleIDs
	cur.Status = grant.Status
	cur.Data = grant.Data
	cur.UpdatedAt = grant.UpdatedAt
	put(ctx, r.s, r.s.grants, grant.ID, *cloneGrant(cur))
	return nil
}

func (r *grantRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.grants[id]; !ok {
		return repositories.ErrNotFound
	}
	drop(ctx, r.s, r.s.grants, id)
	return nil
}

// tokens

type tokenRepository struct{ s *Store }

func (r *tokenRepository) Create(ctx context.Context, token *models.Token) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[token.UserID]; !ok {
		return repositories.ErrNotFound
	}
	for _, t := range r.s.tokens {
		if t.ValueHash == token.ValueHash {
			return &repositories.DuplicateError{Field: "value_hash"}
		}
	}
	put(ctx, r.s, r.s.tokens, token.ID, *token)
	return nil
}

func (r *tokenRepository) Consume(ctx context.Context, valueHash string, kind models.TokenKind) (*models.Token, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, t := range r.s.tokens {
		if t.ValueHash == valueHash && t.Kind == kind {
			drop(ctx, r.s, r.s.tokens, id)
			return &t, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *tokenRepository) DeleteByUserAndKind(ctx context.Context, userID uuid.UUID, kind models.TokenKind) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, t := range r.s.tokens {
		if t.UserID == userID && t.Kind == kind {
			drop(ctx, r.s, r.s.tokens, id)
			n++
		}
	}
	return n, nil
}

func (r *tokenRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, t := range r.s.tokens {
		if t.CreatedAt.Before(cutoff) {
			drop(ctx, r.s, r.s.tokens, id)
			n++
		}
	}
	return n, nil
}

// audit

type auditRepository struct{ s *Store }

func (r *auditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	entry := *log
	entry.Details = append(json.RawMessage(nil), log.Details...)
	r.s.audit = append(r.s.audit, entry)
	return nil
}

func (r *auditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, l := range r.s.audit {
		if l.ID == id {
			entry := l
			return &entry, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func matchesAudit(l models.AuditLog, f models.AuditFilter) bool {
	if f.UserID != nil && (l.UserID == nil || *l.UserID != *f.UserID) {
		return false
	}
	if f.ServiceID != nil && (l.ServiceID == nil || *l.ServiceID != *f.ServiceID) {
		return false
	}
	if f.Action != "" && l.Action != f.Action {
		return false
	}
	if f.From != nil && l.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && l.Timestamp.After(*f.To) {
		return false
	}
	return true
}

func (r *auditRepository) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*models.AuditLog{}
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		if matchesAudit(r.s.audit[i], filter) {
			entry := r.s.audit[i]
			out = append(out, &entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return page(out, repositories.ListOptions{Limit: filter.Limit, Offset: filter.Offset}), nil
}

func (r *auditRepository) Summary(ctx context.Context, filter models.AuditFilter, groupBy models.AuditGroupBy) ([]models.AuditSummaryBucket, error) {
	if !groupBy.Valid() {
		return nil, &unsupportedGroupingError{groupBy}
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	counts := map[string]int64{}
	for _, l := range r.s.audit {
		if !matchesAudit(l, filter) {
			continue
		}
		counts[summaryKey(l, groupBy)]++
	}

	out := make([]models.AuditSummaryBucket, 0, len(counts))
	for k, c := range counts {
		out = append(out, models.AuditSummaryBucket{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if groupBy == models.AuditGroupByDay || out[i].Count == out[j].Count {
			return out[i].Key < out[j].Key
		}
		return out[i].Count > out[j].Count
	})
	return out, nil
}

func summaryKey(l models.AuditLog, groupBy models.AuditGroupBy) string {
	switch groupBy {
	case models.AuditGroupByService:
		if l.ServiceID == nil {
			return "global"
		}
		return l.ServiceID.String()
	case models.AuditGroupByUser:
		if l.UserID == nil {
			return "anonymous"
		}
		return l.UserID.String()
	case models.AuditGroupByDay:
		return l.Timestamp.UTC().Format("2006-01-02")
	default:
		return string(l.Action)
	}
}

type unsupportedGroupingError struct{ groupBy models.AuditGroupBy }

func (e *unsupportedGroupingError) Error() string {
	return "unsupported audit grouping " + string(e.groupBy)
}

// transactions

type txContextKey struct{}

type transactionManager struct{ s *Store }

type transaction struct {
	s    *Store
	undo []func()
	ctx  context.Context
	done bool
}

func (t *transaction) Commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.done = true
	t.undo = nil
	return nil
}

func (t *transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	return nil
}

func (t *transaction) Context() context.Context { return t.ctx }

// Begin starts a journaled transaction. Memory transactions are serialized
// with each other; Rollback reverts only the writes made through the
// transaction's context, so concurrent non-transactional writes (token
// consumption among them) are never undone. Audit entries are append-only and
// survive a rollback, matching a separate audit database.
func (m *transactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	m.s.txMu.Lock()
	tx := &transaction{s: m.s}
	tx.ctx = context.WithValue(ctx, txContextKey{}, tx)
	return &unlockingTx{transaction: tx, unlock: m.s.txMu.Unlock}, nil
}

func (m *transactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	if outer, ok := ctx.Value(txContextKey{}).(*transaction); ok && outer.s == m.s {
		return fn(ctx, outer)
	}

	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx.Context(), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// unlockingTx releases the store's transaction lock exactly once
type unlockingTx struct {
	*transaction
	unlock func()
	once   sync.Once
}

func (u *unlockingTx) Commit() error {
	err := u.transaction.Commit()
	u.once.Do(u.unlock)
	return err
}

func (u *unlockingTx) Rollback() error {
	err := u.transaction.Rollback()
	u.once.Do(u.unlock)
	return err
}
