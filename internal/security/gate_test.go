package security

import "testing"

func newTestGate() *Gate {
	g := NewGate(Config{HMACKey: []byte("test-key"), MisuseLimit: 2})
	g.Register(AgentCredential{AgentID: "echo-1", ToolAllow: []string{"search", "fetch"}})
	return g
}

func TestAuthenticate(t *testing.T) {
	g := newTestGate()
	tok := g.IssueToken("echo-1")
	if err := g.Authenticate("echo-1", tok); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if err := g.Authenticate("echo-1", "bogus"); err == nil {
		t.Fatal("invalid token accepted")
	}
	if err := g.Authenticate("echo-1", ""); err == nil {
		t.Fatal("empty token accepted")
	}
}

func TestAuthorizeIntersection(t *testing.T) {
	g := newTestGate()
	if err := g.Authorize("echo-1", []string{"search"}); err != nil {
		t.Fatalf("granted permission denied: %v", err)
	}
	if err := g.Authorize("echo-1", []string{"search", "delete"}); err == nil {
		t.Fatal("ungranted permission was allowed")
	}
}

func TestCheckToolMisuseEscalation(t *testing.T) {
	g := newTestGate()
	allowed, misused, err := g.CheckTool("echo-1", "search")
	if !allowed || err != nil {
		t.Fatalf("allowed tool rejected: allowed=%v err=%v", allowed, err)
	}
	if misused {
		t.Fatal("allowed tool call should not count as misuse")
	}

	_, misused, _ = g.CheckTool("echo-1", "delete")
	if misused {
		t.Fatal("should not report misused before limit reached")
	}
	_, misused, _ = g.CheckTool("echo-1", "delete")
	if !misused {
		t.Fatal("expected misuse report once limit reached")
	}
	if g.MisuseCount("echo-1") != 2 {
		t.Fatalf("MisuseCount = %d, want 2", g.MisuseCount("echo-1"))
	}

	g.ResetMisuse("echo-1")
	if g.MisuseCount("echo-1") != 0 {
		t.Fatal("ResetMisuse did not clear strikes")
	}
}

func TestUnknownAgent(t *testing.T) {
	g := newTestGate()
	if err := g.Authorize("ghost", nil); err == nil {
		t.Fatal("expected error for unregistered agent")
	}
	if _, _, err := g.CheckTool("ghost", "search"); err == nil {
		t.Fatal("expected error for unregistered agent")
	}
}
