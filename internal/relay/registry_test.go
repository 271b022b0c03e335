package relay

import (
	"errors"
	"reflect"
	"testing"

	"github.com/tbourn/go-chat-relay/internal/domain"
)

func TestRegistry_PresenceTracksOpenConnections(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newFakeConn("c1"))
	reg.Register(newFakeConn("c2"))

	res, err := reg.Attach("c1", "u1", "alice")
	if err != nil || !res.FirstConnection {
		t.Fatalf("first attach: %+v %v", res, err)
	}
	res, err = reg.Attach("c2", " u1 ", "alice")
	if err != nil || res.FirstConnection {
		t.Fatalf("second attach: %+v %v", res, err)
	}
	if !reg.IsOnline("u1") {
		t.Fatalf("u1 should be online")
	}
	if got := reg.Connections("u1"); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Fatalf("connections=%v", got)
	}
	if p, ok := reg.Presence("u1"); !ok || p.Connections != 2 || p.ConnectionID != "c2" || p.Status != domain.StatusOnline {
		t.Fatalf("presence=%+v", p)
	}

	d, ok := reg.Detach("c2")
	if !ok || d.Remaining != 1 || d.Info.UserID != "u1" {
		t.Fatalf("detach c2: %+v %v", d, ok)
	}
	if p, _ := reg.Presence("u1"); p.ConnectionID != "c1" {
		t.Fatalf("latest connection should move to c1, got %q", p.ConnectionID)
	}

	d, ok = reg.Detach("c1")
	if !ok || d.Remaining != 0 || d.Status != domain.StatusOnline {
		t.Fatalf("detach c1: %+v %v", d, ok)
	}
	if reg.IsOnline("u1") || len(reg.OnlineUsers()) != 0 {
		t.Fatalf("u1 should be offline")
	}
	if _, ok := reg.Detach("c1"); ok {
		t.Fatalf("second detach must report false")
	}
	if conns, users := reg.Count(); conns != 0 || users != 0 {
		t.Fatalf("count=%d,%d", conns, users)
	}
}

func TestRegistry_AttachErrorsLeaveStateUntouched(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newFakeConn("c1"))

	if _, err := reg.Attach("c1", "u1", "  "); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("want ErrMissingIdentity, got %v", err)
	}
	if _, err := reg.Attach("nope", "u1", "alice"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("want ErrUnknownConnection, got %v", err)
	}
	if info, _ := reg.Lookup("c1"); info.Authenticated() {
		t.Fatalf("c1 should stay unauthenticated")
	}
	if reg.IsOnline("u1") {
		t.Fatalf("no user should be online")
	}
}

func TestRegistry_ReattachMovesConnection(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newFakeConn("c1"))
	_, _ = reg.Attach("c1", "u1", "alice")

	res, err := reg.Attach("c1", "u2", "bob")
	if err != nil {
		t.Fatalf("reattach: %v", err)
	}
	if res.Previous == nil || res.Previous.UserID != "u1" || res.PreviousRemaining != 0 || !res.FirstConnection {
		t.Fatalf("unexpected result: %+v", res)
	}
	if reg.IsOnline("u1") || !reg.IsOnline("u2") {
		t.Fatalf("presence not moved")
	}
}

func TestRegistry_RegisterTwiceKeepsInfo(t *testing.T) {
	reg := NewRegistry()
	c := newFakeConn("c1")
	first := reg.Register(c)
	_, _ = reg.Attach("c1", "u1", "alice")
	again := reg.Register(c)
	if again.UserID != "u1" || !again.ConnectedAt.Equal(first.ConnectedAt) {
		t.Fatalf("re-register should return existing info: %+v", again)
	}
	if conns, _ := reg.Count(); conns != 1 {
		t.Fatalf("conns=%d", conns)
	}
}

func TestRegistry_AddUserSocketAndSetStatus(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newFakeConn("c1"))
	reg.Register(newFakeConn("c2"))
	_, _ = reg.Attach("c1", "u1", "alice")

	if !reg.AddUserSocket("u1", "c1") {
		t.Fatalf("attached connection should be accepted")
	}
	if reg.AddUserSocket("u1", "c2") || reg.AddUserSocket("", "c1") || reg.AddUserSocket("u1", "zz") {
		t.Fatalf("mismatched identity must be rejected")
	}
	if got := reg.Connections("u1"); len(got) != 1 {
		t.Fatalf("connections=%v", got)
	}

	if _, ok := reg.SetStatus("u9", domain.StatusAway, ""); ok {
		t.Fatalf("offline user status must not be set")
	}
	u, ok := reg.SetStatus("u1", domain.StatusDND, "focus")
	if !ok || u.Status != domain.StatusDND || u.Activity != "focus" {
		t.Fatalf("SetStatus=%+v %v", u, ok)
	}
	if !reg.Touch("c1") || reg.Touch("nope") {
		t.Fatalf("Touch result mismatch")
	}
}
