// Package contacts holds the read-mostly friend/group display-name cache,
// grounded on original_source/src/core/contact_cache.py: wholesale-replace
// the whole map on each refresh rather than incrementally patching it.
package contacts

import (
	"context"
	"fmt"
	"sync"
)

// Friend is one cached friend record.
type Friend struct {
	UserID        string
	Nickname      string
	Remark        string
	Sex           string
	BirthdayYear  int
	BirthdayMonth int
	BirthdayDay   int
}

// Group is one cached group record.
type Group struct {
	GroupID        string
	GroupName      string
	GroupRemark    string
	MemberCount    int
	MaxMemberCount int
	AllShut        bool
}

// Source fetches the live friend/group lists from the transport. The
// transport itself is an external collaborator (SPEC_FULL.md §1); channel
// adapters implement this.
type Source interface {
	FetchFriends(ctx context.Context) ([]Friend, error)
	FetchGroups(ctx context.Context) ([]Group, error)
}

// Directory is the process-wide friend/group cache. One RWMutex guards
// both maps; refreshes fully replace them rather than patching entries.
type Directory struct {
	mu      sync.RWMutex
	friends map[string]Friend
	groups  map[string]Group
	source  Source
}

// New builds an empty Directory backed by source.
func New(source Source) *Directory {
	return &Directory{
		friends: make(map[string]Friend),
		groups:  make(map[string]Group),
		source:  source,
	}
}

// RefreshFriends replaces the entire friend cache.
func (d *Directory) RefreshFriends(ctx context.Context) error {
	friends, err := d.source.FetchFriends(ctx)
	if err != nil {
		return fmt.Errorf("fetching friends: %w", err)
	}
	m := make(map[string]Friend, len(friends))
	for _, f := range friends {
		m[f.UserID] = f
	}
	d.mu.Lock()
	d.friends = m
	d.mu.Unlock()
	return nil
}

// RefreshGroups replaces the entire group cache.
func (d *Directory) RefreshGroups(ctx context.Context) error {
	groups, err := d.source.FetchGroups(ctx)
	if err != nil {
		return fmt.Errorf("fetching groups: %w", err)
	}
	m := make(map[string]Group, len(groups))
	for _, g := range groups {
		m[g.GroupID] = g
	}
	d.mu.Lock()
	d.groups = m
	d.mu.Unlock()
	return nil
}

// RefreshAll refreshes friends then groups.
func (d *Directory) RefreshAll(ctx context.Context) error {
	if err := d.RefreshFriends(ctx); err != nil {
		return err
	}
	return d.RefreshGroups(ctx)
}

// GetRemark returns a friend's remark, or "" if unknown.
func (d *Directory) GetRemark(userID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.friends[userID].Remark
}

// GetGroupDisplayName returns a group's remark if set, else its name, else
// "" if unknown.
func (d *Directory) GetGroupDisplayName(groupID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	if !ok {
		return ""
	}
	if g.GroupRemark != "" {
		return g.GroupRemark
	}
	return g.GroupName
}

// FriendCount and GroupCount report the number of cached friends and groups.
func (d *Directory) FriendCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.friends)
}

func (d *Directory) GroupCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.groups)
}
