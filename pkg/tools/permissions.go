package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sipeed/picoclaw/pkg/tools/common"
)

// Decision is the outcome of a permission check for one tool call.
type Decision string

const (
	// DecisionAllow lets the call proceed without asking.
	DecisionAllow Decision = "allow"
	// DecisionAskBefore means the caller must surface a
	// ToolConfirmationRequest and wait for a human response before Execute runs.
	DecisionAskBefore Decision = "ask_before"
	// DecisionDeny refuses the call outright; Execute is never invoked.
	DecisionDeny Decision = "deny"
)

// Rule is a tool's standing permission, set either by configuration or by
// a prior AllowOnce/always-allow response.
type Rule string

const (
	RuleAlwaysAllow Rule = "always_allow"
	RuleAllowOnce   Rule = "allow_once"
	RuleAskBefore   Rule = "ask_before"
	RuleDeny        Rule = "deny"
)

// PermissionFunc asks the user for permission to access a directory outside the workspace.
// Returns true if approved, false if denied. Implementations should block until the user responds.
type PermissionFunc func(ctx context.Context, path string) (bool, error)

// PermissionFuncFactory creates a PermissionFunc for a given channel and chatID.
// This allows channel-specific permission implementations (CLI stdin, Telegram buttons, etc.)
type PermissionFuncFactory func(channel, chatID string) PermissionFunc

// PermissibleTool is an optional interface that tools can implement
// to support permission-based access to paths outside the workspace.
type PermissibleTool interface {
	Tool
	SetPermission(store *PermissionStore, fn PermissionFunc)
}

// PermissionStore tracks approved directories for a session (legacy
// directory-escape approval, kept for SandboxFs/HostFs path checks) plus
// per-tool-name rules driving the confirmation gate in front of Execute.
type PermissionStore struct {
	mu       sync.RWMutex
	approved map[string]struct{}
	rules    map[string]Rule
	defRule  Rule
}

func NewPermissionStore() *PermissionStore {
	return &PermissionStore{
		approved: make(map[string]struct{}),
		rules:    make(map[string]Rule),
		defRule:  RuleAskBefore,
	}
}

func (ps *PermissionStore) Approve(dir string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.approved[filepath.Clean(dir)] = struct{}{}
}

func (ps *PermissionStore) IsApproved(path string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	cleanPath := filepath.Clean(path)
	for dir := range ps.approved {
		if cleanPath == dir || strings.HasPrefix(cleanPath, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// SetDefaultRule sets the rule applied to tools with no explicit entry.
func (ps *PermissionStore) SetDefaultRule(r Rule) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.defRule = r
}

// SetRule assigns a standing rule to a tool by name (e.g. from config, or
// from a prior "always allow" confirmation response).
func (ps *PermissionStore) SetRule(toolName string, r Rule) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.rules[toolName] = r
}

// RuleFor returns the current rule for a tool, falling back to the store's
// default when no explicit rule was set.
func (ps *PermissionStore) RuleFor(toolName string) Rule {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if r, ok := ps.rules[toolName]; ok {
		return r
	}
	return ps.defRule
}

// Check maps a tool's standing rule to the decision the reply loop must
// act on for this call. AllowOnce degrades the rule back to AskBefore
// after this one approval, so the next call asks again.
func (ps *PermissionStore) Check(toolName string) Decision {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	r, ok := ps.rules[toolName]
	if !ok {
		r = ps.defRule
	}

	switch r {
	case RuleAlwaysAllow:
		return DecisionAllow
	case RuleAllowOnce:
		ps.rules[toolName] = RuleAskBefore
		return DecisionAllow
	case RuleDeny:
		return DecisionDeny
	default:
		return DecisionAskBefore
	}
}

// validatePathWithPermission extends common.ValidatePath: when the path
// falls outside the workspace, it consults store's cached approvals first,
// then asks permFn, caching an approval against the path's directory so
// later files in the same directory don't re-prompt.
func validatePathWithPermission(ctx context.Context, path, workspace string, restrict bool, store *PermissionStore, permFn PermissionFunc) (string, error) {
	resolved, err := common.ValidatePath(path, workspace, restrict)
	if err == nil {
		return resolved, nil
	}
	if !restrict {
		return "", err
	}

	absPath, absErr := filepath.Abs(path)
	if absErr != nil {
		return "", err
	}
	dir := filepath.Dir(absPath)

	if store != nil && store.IsApproved(dir) {
		return absPath, nil
	}

	if permFn == nil {
		return "", fmt.Errorf("access denied: path is outside the workspace: %s. Ask the user for permission before accessing it", path)
	}

	approved, permErr := permFn(ctx, absPath)
	if permErr != nil {
		return "", permErr
	}
	if !approved {
		return "", fmt.Errorf("access denied: user denied permission for path: %s", path)
	}

	if store != nil {
		store.Approve(dir)
	}
	return absPath, nil
}
