package contacts

import (
	"context"
	"testing"
)

type fakeSource struct {
	friends []Friend
	groups  []Group
}

func (f *fakeSource) FetchFriends(ctx context.Context) ([]Friend, error) { return f.friends, nil }
func (f *fakeSource) FetchGroups(ctx context.Context) ([]Group, error)   { return f.groups, nil }

func TestRefreshReplacesWholesale(t *testing.T) {
	src := &fakeSource{friends: []Friend{{UserID: "1", Remark: "Alice"}}}
	d := New(src)

	if err := d.RefreshFriends(context.Background()); err != nil {
		t.Fatalf("RefreshFriends: %v", err)
	}
	if d.GetRemark("1") != "Alice" {
		t.Fatalf("GetRemark(1) = %q, want Alice", d.GetRemark("1"))
	}

	src.friends = []Friend{{UserID: "2", Remark: "Bob"}}
	if err := d.RefreshFriends(context.Background()); err != nil {
		t.Fatalf("RefreshFriends: %v", err)
	}
	if d.GetRemark("1") != "" {
		t.Fatalf("expected stale entry 1 gone after wholesale refresh, got %q", d.GetRemark("1"))
	}
	if d.GetRemark("2") != "Bob" {
		t.Fatalf("GetRemark(2) = %q, want Bob", d.GetRemark("2"))
	}
}

func TestGroupDisplayNamePrefersRemark(t *testing.T) {
	src := &fakeSource{groups: []Group{
		{GroupID: "g1", GroupName: "Official Name", GroupRemark: "My Nickname"},
		{GroupID: "g2", GroupName: "Only Name"},
	}}
	d := New(src)
	if err := d.RefreshGroups(context.Background()); err != nil {
		t.Fatalf("RefreshGroups: %v", err)
	}
	if got := d.GetGroupDisplayName("g1"); got != "My Nickname" {
		t.Fatalf("GetGroupDisplayName(g1) = %q, want My Nickname", got)
	}
	if got := d.GetGroupDisplayName("g2"); got != "Only Name" {
		t.Fatalf("GetGroupDisplayName(g2) = %q, want Only Name", got)
	}
	if got := d.GetGroupDisplayName("missing"); got != "" {
		t.Fatalf("GetGroupDisplayName(missing) = %q, want empty", got)
	}
}
