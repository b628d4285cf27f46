package scheduler

import (
	"testing"

	"github.com/wartag/tagwire/attr"
	"github.com/wartag/tagwire/session"
)

func testAttrs() attr.Attrs {
	return attr.Attrs{Protocol: attr.ProtocolABEIP, Gateway: "10.0.0.1", Path: "1,0", Name: "Tag1"}
}

func newFakeScheduler() *Scheduler {
	s := New()
	s.transportFactory = func(attr.Attrs) (session.Transport, error) {
		return newFakeTransport(), nil
	}
	return s
}

func TestSchedulerSessionForReusesSameIdentity(t *testing.T) {
	s := newFakeScheduler()
	defer s.Shutdown()

	a := testAttrs()
	sess1, err := s.SessionFor(a)
	if err != nil {
		t.Fatalf("SessionFor: %v", err)
	}
	sess2, err := s.SessionFor(a)
	if err != nil {
		t.Fatalf("SessionFor: %v", err)
	}
	if sess1 != sess2 {
		t.Error("two tags with the same endpoint identity got different sessions")
	}
}

func TestSchedulerSessionForDistinctIdentityDialsSeparately(t *testing.T) {
	s := newFakeScheduler()
	defer s.Shutdown()

	a1 := testAttrs()
	a2 := testAttrs()
	a2.Gateway = "10.0.0.2"

	sess1, err := s.SessionFor(a1)
	if err != nil {
		t.Fatalf("SessionFor: %v", err)
	}
	sess2, err := s.SessionFor(a2)
	if err != nil {
		t.Fatalf("SessionFor: %v", err)
	}
	if sess1 == sess2 {
		t.Error("distinct endpoint identities shared one session")
	}
}

func TestSchedulerReleaseSessionTearsDownAtZeroRefs(t *testing.T) {
	s := newFakeScheduler()
	defer s.Shutdown()

	a := testAttrs()
	if _, err := s.SessionFor(a); err != nil {
		t.Fatalf("SessionFor: %v", err)
	}
	if _, err := s.SessionFor(a); err != nil {
		t.Fatalf("SessionFor: %v", err)
	}

	s.ReleaseSession(a)
	s.mu.Lock()
	_, stillThere := s.sessions[a.Identity()]
	s.mu.Unlock()
	if !stillThere {
		t.Fatal("session torn down after only one of two refs released")
	}

	s.ReleaseSession(a)
	s.mu.Lock()
	_, stillThere = s.sessions[a.Identity()]
	s.mu.Unlock()
	if stillThere {
		t.Error("session still present after last ref released")
	}
}

func TestParseRouteCommaSeparated(t *testing.T) {
	route, err := parseRoute("1,0")
	if err != nil {
		t.Fatalf("parseRoute: %v", err)
	}
	if len(route) != 2 || route[0] != 1 || route[1] != 0 {
		t.Errorf("route = %v, want [1 0]", route)
	}
}

func TestParseRouteEmpty(t *testing.T) {
	route, err := parseRoute("")
	if err != nil {
		t.Fatalf("parseRoute: %v", err)
	}
	if route != nil {
		t.Errorf("route = %v, want nil", route)
	}
}

func TestParseRouteInvalidSegment(t *testing.T) {
	if _, err := parseRoute("1,x"); err == nil {
		t.Error("expected error for non-numeric route segment")
	}
}
