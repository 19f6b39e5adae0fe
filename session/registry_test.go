package session_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/collabsandbox/relay/session"
)

func testChannels(id string) []string {
	return []string{"Human:Jack:" + id, "Agent:Runtime:" + id}
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := session.NewRegistry()

	created, err := r.Create("s1", session.SoloAgent, testChannels("s1"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID != "s1" || created.Kind != session.SoloAgent {
		t.Errorf("Create() = %+v, want id s1 kind solo_agent", created)
	}

	got, err := r.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Channels) != 2 {
		t.Errorf("Get().Channels has %d entries, want 2", len(got.Channels))
	}
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	r := session.NewRegistry()

	if _, err := r.Create("s1", session.SoloAgent, testChannels("s1")); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}

	_, err := r.Create("s1", session.HumanPaired, testChannels("s1"))
	if !errors.Is(err, session.ErrDuplicateSession) {
		t.Errorf("Create() error = %v, want ErrDuplicateSession", err)
	}
}

func TestRegistry_CreateEmptyID(t *testing.T) {
	r := session.NewRegistry()

	if _, err := r.Create("", session.SoloAgent, nil); !errors.Is(err, session.ErrEmptyID) {
		t.Errorf("Create() error = %v, want ErrEmptyID", err)
	}
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := session.NewRegistry()

	if _, err := r.Get("missing"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_AddMemberNotFound(t *testing.T) {
	r := session.NewRegistry()

	if err := r.AddMember("missing", "conn-1"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("AddMember() error = %v, want ErrNotFound", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after failed AddMember, want 0", r.Len())
	}
}

func TestRegistry_AddMemberIdempotent(t *testing.T) {
	r := session.NewRegistry()
	mustCreate(t, r, "s1")

	if err := r.AddMember("s1", "conn-1"); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	if err := r.AddMember("s1", "conn-1"); err != nil {
		t.Fatalf("second AddMember() error = %v", err)
	}

	if members := r.Members("s1"); len(members) != 1 {
		t.Errorf("Members() = %v, want one entry", members)
	}
}

func TestRegistry_SingleMembership(t *testing.T) {
	r := session.NewRegistry()
	mustCreate(t, r, "s1")
	mustCreate(t, r, "s2")

	if err := r.AddMember("s1", "conn-1"); err != nil {
		t.Fatalf("AddMember(s1) error = %v", err)
	}
	if err := r.AddMember("s2", "conn-1"); err != nil {
		t.Fatalf("AddMember(s2) error = %v", err)
	}

	if members := r.Members("s1"); len(members) != 0 {
		t.Errorf("s1 Members() = %v, want empty after conn moved to s2", members)
	}
	if members := r.Members("s2"); len(members) != 1 {
		t.Errorf("s2 Members() = %v, want one entry", members)
	}

	id, joined := r.SessionForConn("conn-1")
	if !joined || id != "s2" {
		t.Errorf("SessionForConn() = (%q, %v), want (s2, true)", id, joined)
	}
}

func TestRegistry_RemoveMemberIdempotent(t *testing.T) {
	r := session.NewRegistry()
	mustCreate(t, r, "s1")

	if err := r.AddMember("s1", "conn-1"); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}

	// Remove twice, then remove one that was never added. None may panic
	// or change the result.
	r.RemoveMember("s1", "conn-1")
	r.RemoveMember("s1", "conn-1")
	r.RemoveMember("s1", "conn-never-added")
	r.RemoveMember("missing-session", "conn-1")

	if members := r.Members("s1"); len(members) != 0 {
		t.Errorf("Members() = %v, want empty", members)
	}
}

func TestRegistry_DeleteAbsentIsNoOp(t *testing.T) {
	r := session.NewRegistry()

	if r.Delete("missing") {
		t.Error("Delete() = true for absent session, want false")
	}
}

func TestRegistry_DeleteClearsIndexes(t *testing.T) {
	r := session.NewRegistry()
	mustCreate(t, r, "s1")

	if err := r.AddMember("s1", "conn-1"); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}

	if !r.Delete("s1") {
		t.Fatal("Delete() = false, want true")
	}

	if _, ok := r.SessionForChannel("Human:Jack:s1"); ok {
		t.Error("SessionForChannel() still resolves after Delete")
	}
	if _, joined := r.SessionForConn("conn-1"); joined {
		t.Error("SessionForConn() still resolves after Delete")
	}
}

func TestRegistry_SessionForChannel(t *testing.T) {
	r := session.NewRegistry()
	mustCreate(t, r, "s1")

	sess, ok := r.SessionForChannel("Agent:Runtime:s1")
	if !ok {
		t.Fatal("SessionForChannel() = false, want true")
	}
	if sess.ID != "s1" {
		t.Errorf("SessionForChannel().ID = %q, want s1", sess.ID)
	}

	if _, ok := r.SessionForChannel("Agent:Runtime:other"); ok {
		t.Error("SessionForChannel() resolved a foreign channel")
	}
}

func TestRegistry_DropConn(t *testing.T) {
	r := session.NewRegistry()
	mustCreate(t, r, "s1")

	if err := r.AddMember("s1", "conn-1"); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}

	r.DropConn("conn-1")
	r.DropConn("conn-unknown") // no-op

	if members := r.Members("s1"); len(members) != 0 {
		t.Errorf("Members() = %v after DropConn, want empty", members)
	}
}

func TestRegistry_List(t *testing.T) {
	r := session.NewRegistry()
	mustCreate(t, r, "b")
	mustCreate(t, r, "a")

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List() has %d entries, want 2", len(list))
	}
	if list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("List() order = [%s %s], want [a b]", list[0].ID, list[1].ID)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := session.NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", n)
			if _, err := r.Create(id, session.SoloAgent, testChannels(id)); err != nil {
				t.Errorf("Create(%s) error = %v", id, err)
				return
			}
			if err := r.AddMember(id, "conn-"+id); err != nil {
				t.Errorf("AddMember(%s) error = %v", id, err)
			}
			r.Members(id)
			if n%2 == 0 {
				r.Delete(id)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 25 {
		t.Errorf("Len() = %d after concurrent create/delete, want 25", r.Len())
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		value   string
		want    session.Kind
		wantErr bool
	}{
		{"solo_agent", session.SoloAgent, false},
		{"human_paired", session.HumanPaired, false},
		{"Human/AI", session.HumanPaired, false},
		{"", session.SoloAgent, false},
		{"bogus", "", true},
	}

	for _, tt := range tests {
		got, err := session.ParseKind(tt.value)
		if tt.wantErr {
			if !errors.Is(err, session.ErrUnknownKind) {
				t.Errorf("ParseKind(%q) error = %v, want ErrUnknownKind", tt.value, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseKind(%q) error = %v", tt.value, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func mustCreate(t *testing.T, r *session.Registry, id string) {
	t.Helper()
	if _, err := r.Create(id, session.SoloAgent, testChannels(id)); err != nil {
		t.Fatalf("Create(%s) error = %v", id, err)
	}
}
