package auth

import (
	"context"
	"sort"
	"strings"
)

const (
	PermAll               = "*"
	PermSystemMaintenance = "system.maintenance"

	permissionWildcardPart = ".*"
)

// PermissionSet is an effective set of permission keys.
type PermissionSet map[string]struct{}

func NewPermissionSet(keys ...string) PermissionSet {
	set := make(PermissionSet, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// Keys returns the set sorted.
func (s PermissionSet) Keys() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Authorize reports whether set grants required. "*" grants everything, and
// "a.*" grants every key below the "a." prefix at any depth.
func Authorize(set PermissionSet, required string) bool {
	if len(set) == 0 {
		return false
	}
	if _, ok := set[PermAll]; ok {
		return true
	}
	if _, ok := set[required]; ok {
		return true
	}
	for i := len(required) - 1; i > 0; i-- {
		if required[i] != '.' {
			continue
		}
		if _, ok := set[required[:i]+permissionWildcardPart]; ok {
			return true
		}
	}
	return false
}

// Missing returns the required keys set does not grant, in input order.
func Missing(set PermissionSet, required ...string) []string {
	var missing []string
	for _, r := range required {
		if !Authorize(set, r) {
			missing = append(missing, r)
		}
	}
	return missing
}

// Require fails with a *PermissionError (kind Forbidden) naming every missing key.
func Require(set PermissionSet, required ...string) error {
	if missing := Missing(set, required...); len(missing) > 0 {
		return &PermissionError{Missing: missing}
	}
	return nil
}

// Resolver computes effective permissions for a principal.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Effective prefers permissions embedded in the token and otherwise unions the
// permissions of every role the membership holds, directly or through groups.
func (r *Resolver) Effective(ctx context.Context, claims *Claims, tenantID string) (PermissionSet, error) {
	if claims == nil {
		return nil, newError(ErrUnauthenticated, ReasonTokenMalformed, nil)
	}
	if len(claims.Permissions) > 0 {
		return NewPermissionSet(claims.Permissions...), nil
	}
	if r == nil || r.store == nil {
		return PermissionSet{}, nil
	}

	var keys []string
	err := r.store.InTenant(ctx, tenantID, func(tx TenantTx) error {
		var err error
		keys, err = tx.EffectivePermissions(ctx, claims.Subject)
		return err
	})
	if err != nil {
		return nil, storageError(err)
	}
	return NewPermissionSet(keys...), nil
}
