// Package security implements the orchestrator's security gate (spec §4.9):
// connection bootstrap authentication, per-message permission intersection,
// and per-agent tool allow-list enforcement.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cartrita/mcp/internal/mcperr"
)

// AgentCredential is the security-relevant slice of an agent's registration:
// its bearer secret and the tools it is permitted to invoke.
type AgentCredential struct {
	AgentID    string
	Secret     string
	ToolAllow  []string
	Misuse     int32 // exported for snapshotting by the registry; updated via atomics
}

// Gate verifies bearer tokens, intersects caller/agent permission sets, and
// tracks tool-allow-list violations per agent. It is read-heavy (every frame
// on every connection consults it) and write-light (credentials change only
// on registration), so it is guarded with an RWMutex like the upstream
// AuthMiddleware's key table.
type Gate struct {
	mu          sync.RWMutex
	creds       map[string]*AgentCredential
	hmacKey     []byte
	misuseLimit int32
}

// Config configures a Gate.
type Config struct {
	// HMACKey signs/verifies bearer tokens minted for agent connections.
	HMACKey []byte
	// MisuseLimit is the number of disallowed-tool attempts an agent may make
	// before the gate reports it as abusive (spec §4.9); the registry reacts
	// to that report by transitioning the agent to UNHEALTHY.
	MisuseLimit int32
}

// NewGate builds a Gate from cfg.
func NewGate(cfg Config) *Gate {
	limit := cfg.MisuseLimit
	if limit <= 0 {
		limit = 5
	}
	return &Gate{
		creds:       make(map[string]*AgentCredential),
		hmacKey:     cfg.HMACKey,
		misuseLimit: limit,
	}
}

// Register installs or replaces the credential for an agent.
func (g *Gate) Register(cred AgentCredential) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := cred
	g.creds[cred.AgentID] = &c
}

// Deregister removes an agent's credential.
func (g *Gate) Deregister(agentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.creds, agentID)
}

// IssueToken mints an HMAC-SHA256 bearer token for agentID, to be presented
// on the connection's first EVENT frame.
func (g *Gate) IssueToken(agentID string) string {
	mac := hmac.New(sha256.New, g.hmacKey)
	mac.Write([]byte(agentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate verifies that token is the bearer token for agentID, in
// constant time. The first frame on a connection must carry a valid token
// or the connection is closed with AUTH_REQUIRED (spec §4.9).
func (g *Gate) Authenticate(agentID, token string) error {
	if token == "" {
		return mcperr.New(mcperr.AuthRequired, "security token missing on first frame")
	}
	expected := g.IssueToken(agentID)
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return mcperr.New(mcperr.AuthRequired, "security token invalid")
	}
	return nil
}

// Authorize intersects requested with the permissions granted to agentID,
// returning PERMISSION_DENIED if requested asks for anything the agent was
// not granted at registration.
func (g *Gate) Authorize(agentID string, requested []string) error {
	g.mu.RLock()
	cred, ok := g.creds[agentID]
	g.mu.RUnlock()
	if !ok {
		return mcperr.New(mcperr.UnknownRecipient, fmt.Sprintf("agent %q not registered", agentID))
	}
	granted := make(map[string]struct{}, len(cred.ToolAllow))
	for _, t := range cred.ToolAllow {
		granted[t] = struct{}{}
	}
	for _, want := range requested {
		if _, ok := granted[want]; !ok {
			return mcperr.New(mcperr.PermissionDenied, fmt.Sprintf("agent %q not granted %q", agentID, want))
		}
	}
	return nil
}

// CheckTool verifies agentID is allowed to invoke tool, recording a misuse
// strike on denial. Misused reports once the agent crosses the configured
// limit, true otherwise.
func (g *Gate) CheckTool(agentID, tool string) (allowed bool, misused bool, err error) {
	g.mu.RLock()
	cred, ok := g.creds[agentID]
	g.mu.RUnlock()
	if !ok {
		return false, false, mcperr.New(mcperr.UnknownRecipient, fmt.Sprintf("agent %q not registered", agentID))
	}
	for _, t := range cred.ToolAllow {
		if t == tool {
			return true, false, nil
		}
	}
	n := atomic.AddInt32(&cred.Misuse, 1)
	return false, n >= g.misuseLimit, mcperr.New(mcperr.PermissionDenied, fmt.Sprintf("agent %q not allow-listed for tool %q", agentID, tool))
}

// MisuseCount reports the current strike count for agentID, or 0 if unknown.
func (g *Gate) MisuseCount(agentID string) int32 {
	g.mu.RLock()
	cred, ok := g.creds[agentID]
	g.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt32(&cred.Misuse)
}

// ResetMisuse clears the strike count for agentID, e.g. after an operator
// manually restores a quarantined agent to HEALTHY.
func (g *Gate) ResetMisuse(agentID string) {
	g.mu.RLock()
	cred, ok := g.creds[agentID]
	g.mu.RUnlock()
	if ok {
		atomic.StoreInt32(&cred.Misuse, 0)
	}
}
