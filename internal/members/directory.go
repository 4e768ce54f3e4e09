package members

import (
	"context"
	"sync"
)

type memberKey struct {
	scopeID  int64
	memberID int64
}

// Directory はプラットフォーム側から受け取ったメンバーのロール情報を保持する。
// 未登録のメンバーはロールなしとして扱う。
type Directory struct {
	mu    sync.RWMutex
	roles map[memberKey][]int64
}

func NewDirectory() *Directory {
	return &Directory{roles: make(map[memberKey][]int64)}
}

// SetRoles replaces the roles of a member. An empty list forgets the member.
func (d *Directory) SetRoles(scopeID, memberID int64, roles []int64) {
	key := memberKey{scopeID: scopeID, memberID: memberID}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(roles) == 0 {
		delete(d.roles, key)
		return
	}
	stored := make([]int64, len(roles))
	copy(stored, roles)
	d.roles[key] = stored
}

// ResolveRoles returns a copy of the member's roles.
func (d *Directory) ResolveRoles(_ context.Context, scopeID, memberID int64) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stored := d.roles[memberKey{scopeID: scopeID, memberID: memberID}]
	out := make([]int64, len(stored))
	copy(out, stored)
	return out, nil
}

// Len returns the number of members with roles.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.roles)
}
