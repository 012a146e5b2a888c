// Package memstore is an in-process implementation of the auth storage
// contracts. It backs tests and single-node development runs; every read and
// write is filtered by the tenant bound to the unit of work, mirroring the
// row-level security policies of the postgres store.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/tenancy"
)

type role struct {
	id       string
	tenantID string
	name     string
	perms    []string
}

type group struct {
	id       string
	tenantID string
	members  map[string]struct{}
	roles    map[string]struct{}
}

// Store holds all rows in memory. InTenant holds the store lock for the whole
// unit of work, so units never interleave and must not be nested.
type Store struct {
	mu sync.Mutex

	users       map[string]auth.User
	memberships map[string]auth.Membership
	roles       map[string]role
	userRoles   map[string]map[string]struct{}
	groups      map[string]*group
	sessions    map[string]auth.Session
	tokens      map[string]auth.RefreshToken // by hash
	mfa         map[string]auth.MFASecret    // by tenant/user

	fail error
}

func New() *Store {
	return &Store{
		users:       make(map[string]auth.User),
		memberships: make(map[string]auth.Membership),
		roles:       make(map[string]role),
		userRoles:   make(map[string]map[string]struct{}),
		groups:      make(map[string]*group),
		sessions:    make(map[string]auth.Session),
		tokens:      make(map[string]auth.RefreshToken),
		mfa:         make(map[string]auth.MFASecret),
	}
}

// SetFailure makes every following InTenant call fail with err until it is
// reset with nil.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// InTenant runs fn against rows of tenantID only. Writes made by fn are undone
// when it returns an error.
func (s *Store) InTenant(ctx context.Context, tenantID string, fn func(tx auth.TenantTx) error) error {
	id, err := tenancy.Normalize(tenantID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}

	tx := &tenantTx{s: s, tenantID: id}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

// Seeding helpers. They are not tenant scoped.

func (s *Store) AddUser(u auth.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	s.users[u.ID] = u
}

func (s *Store) AddMembership(m auth.Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Email = strings.ToLower(strings.TrimSpace(m.Email))
	if m.Status == "" {
		m.Status = auth.MembershipActive
	}
	s.memberships[m.ID] = m
}

func (s *Store) SetMembershipStatus(membershipID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.memberships[membershipID]; ok {
		m.Status = status
		s.memberships[membershipID] = m
	}
}

func (s *Store) AddRole(tenantID, roleID, name string, perms ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[roleID] = role{id: roleID, tenantID: tenantID, name: name, perms: perms}
}

func (s *Store) AssignRole(membershipID, roleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userRoles[membershipID] == nil {
		s.userRoles[membershipID] = make(map[string]struct{})
	}
	s.userRoles[membershipID][roleID] = struct{}{}
}

func (s *Store) AddGroup(tenantID, groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID] = &group{
		id:       groupID,
		tenantID: tenantID,
		members:  make(map[string]struct{}),
		roles:    make(map[string]struct{}),
	}
}

func (s *Store) AddGroupMember(groupID, membershipID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[groupID]; ok {
		g.members[membershipID] = struct{}{}
	}
}

func (s *Store) AddGroupRole(groupID, roleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[groupID]; ok {
		g.roles[roleID] = struct{}{}
	}
}

// Session returns a copy of the stored session regardless of tenant.
func (s *Store) Session(id string) (auth.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// SweepRefreshTokens deletes refresh tokens that expired before cutoff and
// sessions revoked before cutoff that no longer own any token.
func (s *Store) SweepRefreshTokens(_ context.Context, cutoff time.Time) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tokens, sessions int64
	owners := make(map[string]struct{})
	for hash, t := range s.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(s.tokens, hash)
			tokens++
			continue
		}
		owners[t.SessionID] = struct{}{}
	}
	for id, sess := range s.sessions {
		if _, owned := owners[id]; owned || !sess.Revoked {
			continue
		}
		if sess.LastSeenAt.Before(cutoff) {
			delete(s.sessions, id)
			sessions++
		}
	}
	return tokens, sessions, nil
}

type tenantTx struct {
	s        *Store
	tenantID string
	undo     []func()
}

func (tx *tenantTx) TenantID() string { return tx.tenantID }

func (tx *tenantTx) membershipFor(userID string) (auth.Membership, bool) {
	for _, m := range tx.s.memberships {
		if m.TenantID == tx.tenantID && m.UserID == userID {
			return m, true
		}
	}
	return auth.Membership{}, false
}

func (tx *tenantTx) loginRecord(m auth.Membership) (auth.LoginRecord, error) {
	u, ok := tx.s.users[m.UserID]
	if !ok {
		return auth.LoginRecord{}, auth.ErrNotFound
	}
	// MFA is a property of the membership: only a confirmed secret in this
	// tenant turns it on.
	secret, ok := tx.s.mfa[mfaKey(tx.tenantID, u.ID)]
	u.MFAEnabled = ok && secret.Confirmed
	return auth.LoginRecord{Membership: m, User: u}, nil
}

func (tx *tenantTx) FindLoginMembership(_ context.Context, email string) (auth.LoginRecord, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, m := range tx.s.memberships {
		if m.TenantID != tx.tenantID {
			continue
		}
		if m.Email == email || tx.s.users[m.UserID].Email == email {
			return tx.loginRecord(m)
		}
	}
	return auth.LoginRecord{}, auth.ErrNotFound
}

func (tx *tenantTx) FindMembershipByUser(_ context.Context, userID string) (auth.LoginRecord, error) {
	m, ok := tx.membershipFor(userID)
	if !ok {
		return auth.LoginRecord{}, auth.ErrNotFound
	}
	return tx.loginRecord(m)
}

func (tx *tenantTx) CreateSession(_ context.Context, sess auth.Session) error {
	if sess.TenantID != tx.tenantID {
		return tenancy.ErrTenantMismatch
	}
	if _, exists := tx.s.sessions[sess.ID]; exists {
		return auth.ErrConflict
	}
	tx.s.sessions[sess.ID] = sess
	tx.undo = append(tx.undo, func() { delete(tx.s.sessions, sess.ID) })
	return nil
}

func (tx *tenantTx) session(id string) (auth.Session, bool) {
	sess, ok := tx.s.sessions[id]
	if !ok || sess.TenantID != tx.tenantID {
		return auth.Session{}, false
	}
	return sess, true
}

func (tx *tenantTx) putSession(sess auth.Session) {
	prev := tx.s.sessions[sess.ID]
	tx.s.sessions[sess.ID] = sess
	tx.undo = append(tx.undo, func() { tx.s.sessions[sess.ID] = prev })
}

func (tx *tenantTx) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	sess, ok := tx.session(sessionID)
	if !ok {
		return auth.ErrNotFound
	}
	sess.LastSeenAt = at
	tx.putSession(sess)
	return nil
}

func (tx *tenantTx) ListSessions(_ context.Context, userID string) ([]auth.Session, error) {
	var out []auth.Session
	for _, sess := range tx.s.sessions {
		if sess.TenantID == tx.tenantID && sess.UserID == userID && !sess.Revoked {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (tx *tenantTx) SessionOwner(_ context.Context, sessionID string) (string, error) {
	sess, ok := tx.session(sessionID)
	if !ok {
		return "", auth.ErrNotFound
	}
	return sess.UserID, nil
}

func (tx *tenantTx) RevokeSession(_ context.Context, sessionID string) error {
	sess, ok := tx.session(sessionID)
	if !ok {
		return auth.ErrNotFound
	}
	tx.revokeSession(sess)
	return nil
}

func (tx *tenantTx) revokeSession(sess auth.Session) {
	sess.Revoked = true
	tx.putSession(sess)
	for hash, t := range tx.s.tokens {
		if t.SessionID == sess.ID && !t.Revoked {
			tx.putToken(hash, t, true)
		}
	}
}

func (tx *tenantTx) RevokeMembershipSessions(_ context.Context, membershipID string) (int64, error) {
	var n int64
	for _, sess := range tx.s.sessions {
		if sess.TenantID == tx.tenantID && sess.MembershipID == membershipID && !sess.Revoked {
			tx.revokeSession(sess)
			n++
		}
	}
	return n, nil
}

func (tx *tenantTx) putToken(hash string, t auth.RefreshToken, revoked bool) {
	prev := t
	t.Revoked = revoked
	tx.s.tokens[hash] = t
	tx.undo = append(tx.undo, func() { tx.s.tokens[hash] = prev })
}

func (tx *tenantTx) CreateRefreshToken(_ context.Context, t auth.RefreshToken) error {
	if t.TenantID != tx.tenantID {
		return tenancy.ErrTenantMismatch
	}
	if _, ok := tx.session(t.SessionID); !ok {
		return auth.ErrNotFound
	}
	if _, exists := tx.s.tokens[t.TokenHash]; exists {
		return auth.ErrConflict
	}
	tx.s.tokens[t.TokenHash] = t
	tx.undo = append(tx.undo, func() { delete(tx.s.tokens, t.TokenHash) })
	return nil
}

func (tx *tenantTx) LockRefreshToken(_ context.Context, tokenHash string) (auth.RefreshRecord, error) {
	t, ok := tx.s.tokens[tokenHash]
	if !ok || t.TenantID != tx.tenantID {
		return auth.RefreshRecord{}, auth.ErrNotFound
	}
	sess, ok := tx.session(t.SessionID)
	if !ok {
		return auth.RefreshRecord{}, auth.ErrNotFound
	}
	rec := auth.RefreshRecord{
		Token:          t,
		SessionRevoked: sess.Revoked,
		MembershipID:   sess.MembershipID,
		UserID:         sess.UserID,
	}
	if m, ok := tx.s.memberships[sess.MembershipID]; ok {
		rec.MembershipStatus = m.Status
	}
	return rec, nil
}

func (tx *tenantTx) RevokeRefreshToken(_ context.Context, tokenID string) error {
	for hash, t := range tx.s.tokens {
		if t.ID == tokenID && t.TenantID == tx.tenantID {
			tx.putToken(hash, t, true)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (tx *tenantTx) EffectivePermissions(_ context.Context, userID string) ([]string, error) {
	m, ok := tx.membershipFor(userID)
	if !ok || m.Status != auth.MembershipActive {
		return nil, nil
	}

	assigned := make(map[string]struct{})
	for roleID := range tx.s.userRoles[m.ID] {
		assigned[roleID] = struct{}{}
	}
	for _, g := range tx.s.groups {
		if g.tenantID != tx.tenantID {
			continue
		}
		if _, member := g.members[m.ID]; !member {
			continue
		}
		for roleID := range g.roles {
			assigned[roleID] = struct{}{}
		}
	}
	for _, r := range tx.s.roles {
		if r.tenantID == tx.tenantID && m.Role != "" && r.name == m.Role {
			assigned[r.id] = struct{}{}
		}
	}

	keys := make(map[string]struct{})
	for roleID := range assigned {
		r, ok := tx.s.roles[roleID]
		if !ok || r.tenantID != tx.tenantID {
			continue
		}
		for _, p := range r.perms {
			keys[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func mfaKey(tenantID, userID string) string { return tenantID + "/" + userID }

func (tx *tenantTx) MFASecret(_ context.Context, userID string) (auth.MFASecret, error) {
	secret, ok := tx.s.mfa[mfaKey(tx.tenantID, userID)]
	if !ok {
		return auth.MFASecret{}, auth.ErrNotFound
	}
	return secret, nil
}

func (tx *tenantTx) SaveMFASecret(_ context.Context, secret auth.MFASecret) error {
	if secret.TenantID != tx.tenantID {
		return tenancy.ErrTenantMismatch
	}
	key := mfaKey(tx.tenantID, secret.UserID)
	prev, existed := tx.s.mfa[key]
	if existed && prev.Confirmed {
		return auth.ErrConflict
	}
	secret.Confirmed = false
	tx.s.mfa[key] = secret
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.s.mfa[key] = prev
		} else {
			delete(tx.s.mfa, key)
		}
	})
	return nil
}

func (tx *tenantTx) ConfirmMFASecret(_ context.Context, userID string) error {
	key := mfaKey(tx.tenantID, userID)
	prev, ok := tx.s.mfa[key]
	if !ok {
		return auth.ErrNotFound
	}
	next := prev
	next.Confirmed = true
	tx.s.mfa[key] = next
	tx.undo = append(tx.undo, func() { tx.s.mfa[key] = prev })
	return nil
}

// Revocations is an in-memory blacklist for access tokens.
type Revocations struct {
	mu      sync.RWMutex
	entries map[string]auth.RevocationEntry
	now     func() time.Time
	fail    error
}

func NewRevocations(now func() time.Time) *Revocations {
	if now == nil {
		now = time.Now
	}
	return &Revocations{entries: make(map[string]auth.RevocationEntry), now: now}
}

// SetFailure makes every call fail with err until reset with nil.
func (r *Revocations) SetFailure(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

func (r *Revocations) Revoke(_ context.Context, entry auth.RevocationEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.entries[entry.Key] = entry
	return nil
}

func (r *Revocations) IsRevoked(_ context.Context, key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fail != nil {
		return false, r.fail
	}
	entry, ok := r.entries[key]
	return ok && r.now().Before(entry.ExpiresAt), nil
}

func (r *Revocations) Claim(_ context.Context, entry auth.RevocationEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return false, r.fail
	}
	if prev, ok := r.entries[entry.Key]; ok && r.now().Before(prev.ExpiresAt) {
		return false, nil
	}
	r.entries[entry.Key] = entry
	return true, nil
}

func (r *Revocations) SweepExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	now := r.now()
	var n int64
	for key, entry := range r.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(r.entries, key)
			n++
		}
	}
	return n, nil
}

// Len reports how many entries are held.
func (r *Revocations) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Attempts is an in-memory auth.AttemptLimiter. The window restarts on every
// attempt, like the Redis limiter's EXPIRE.
type Attempts struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	now      func() time.Time
	counters map[string]attemptCounter
}

type attemptCounter struct {
	count int
	until time.Time
}

func NewAttempts(max int, window time.Duration, now func() time.Time) *Attempts {
	if now == nil {
		now = time.Now
	}
	return &Attempts{max: max, window: window, now: now, counters: make(map[string]attemptCounter)}
}

func (a *Attempts) Acquire(_ context.Context, subject string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	c, ok := a.counters[subject]
	if !ok || !now.Before(c.until) {
		c = attemptCounter{}
	}
	c.count++
	c.until = now.Add(a.window)
	a.counters[subject] = c
	return c.count <= a.max, nil
}

func (a *Attempts) Reset(_ context.Context, subject string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counters, subject)
	return nil
}
