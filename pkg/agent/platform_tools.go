package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sipeed/picoclaw/pkg/cron"
)

// platformToolPrefix marks a tool name as a platform tool: handled in-process
// by the reply loop instead of routed through the tool registry, bypassing
// both the permission gate and the loop detector entirely.
const platformToolPrefix = "platform__"

const (
	platformReadResource       = platformToolPrefix + "read_resource"
	platformListResources      = platformToolPrefix + "list_resources"
	platformSearchAvailableExt = platformToolPrefix + "search_available_extensions"
	platformManageExtensions   = platformToolPrefix + "manage_extensions"
	platformManageSchedule     = platformToolPrefix + "manage_schedule"
)

// subagentRestrictedPlatformTools are withheld from a subagent's tool set:
// extension and schedule management stay available only to the top-level
// agent, never to a spawned subagent.
var subagentRestrictedPlatformTools = map[string]bool{
	platformManageExtensions: true,
	platformManageSchedule:   true,
}

func isPlatformTool(name string) bool {
	return strings.HasPrefix(name, platformToolPrefix)
}

// executePlatformTool dispatches one platform__ tool call in-process. It
// never touches rl.cfg.Permissions or rl.cfg.LoopDetector — the whole point
// of a platform tool is that it is trusted host-side machinery, not an
// arbitrary extension call.
func (rl *ReplyLoop) executePlatformTool(ctx context.Context, name string, args map[string]any) (text string, isError bool) {
	if rl.cfg.IsSubagent && subagentRestrictedPlatformTools[name] {
		return fmt.Sprintf("%s is not available to subagents", name), true
	}

	switch name {
	case platformReadResource:
		return rl.platformReadResource(ctx, args)
	case platformListResources:
		return rl.platformListResources(ctx, args)
	case platformSearchAvailableExt:
		return rl.platformSearchAvailableExtensions()
	case platformManageExtensions:
		return rl.platformManageExtensions(args)
	case platformManageSchedule:
		return rl.platformManageSchedule(args)
	default:
		return fmt.Sprintf("unknown platform tool: %s", name), true
	}
}

func (rl *ReplyLoop) platformReadResource(ctx context.Context, args map[string]any) (string, bool) {
	if rl.cfg.MCP == nil {
		return "no extensions are configured", true
	}
	server, _ := args["server"].(string)
	uri, _ := args["uri"].(string)
	if server == "" || uri == "" {
		return "server and uri are required for read_resource", true
	}
	content, err := rl.cfg.MCP.ReadResource(ctx, server, uri)
	if err != nil {
		return fmt.Sprintf("error reading resource: %v", err), true
	}
	return content, false
}

func (rl *ReplyLoop) platformListResources(ctx context.Context, args map[string]any) (string, bool) {
	if rl.cfg.MCP == nil {
		return "no extensions are configured", true
	}
	server, _ := args["server"].(string)

	servers := []string{server}
	if server == "" {
		for _, s := range rl.cfg.MCP.SearchAvailableExtensions() {
			servers = append(servers, s.Name)
		}
	}

	var sb strings.Builder
	found := false
	for _, s := range servers {
		resources, err := rl.cfg.MCP.ListResources(ctx, s)
		if err != nil {
			continue
		}
		for _, r := range resources {
			found = true
			fmt.Fprintf(&sb, "[%s] %s — %s (%s)\n", s, r.URI, r.Name, r.Description)
		}
	}
	if !found {
		return "no resources available", false
	}
	return sb.String(), false
}

func (rl *ReplyLoop) platformSearchAvailableExtensions() (string, bool) {
	if rl.cfg.MCP == nil {
		return "no extensions are configured", false
	}
	summaries := rl.cfg.MCP.SearchAvailableExtensions()
	if len(summaries) == 0 {
		return "no extensions are configured", false
	}
	var sb strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&sb, "%s (%s): %s\n", s.Name, s.Status, s.Description)
	}
	return sb.String(), false
}

func (rl *ReplyLoop) platformManageExtensions(args map[string]any) (string, bool) {
	if rl.cfg.MCP == nil {
		return "no extensions are configured", true
	}
	action, _ := args["action"].(string)
	name, _ := args["name"].(string)
	if name == "" {
		return "name is required for manage_extensions", true
	}

	switch action {
	case "enable":
		if err := rl.cfg.MCP.SetExtensionEnabled(name, true); err != nil {
			return err.Error(), true
		}
		return fmt.Sprintf("extension %q enabled", name), false
	case "disable":
		if err := rl.cfg.MCP.SetExtensionEnabled(name, false); err != nil {
			return err.Error(), true
		}
		return fmt.Sprintf("extension %q disabled", name), false
	default:
		return fmt.Sprintf("invalid action for manage_extensions: %q (want enable|disable)", action), true
	}
}

// platformManageSchedule implements the schedule management action table
// directly against cron.CronService, independent of pkg/tools'
// CronTool (whose action vocabulary predates this one and doesn't match it —
// "add"/"remove" vs. "create"/"delete", and an ad-hoc message/command "add"
// vs. a recipe-file "create").
func (rl *ReplyLoop) platformManageSchedule(args map[string]any) (string, bool) {
	if rl.cfg.Cron == nil {
		return "scheduling is not available", true
	}
	action, _ := args["action"].(string)

	switch action {
	case "list":
		return rl.scheduleList()
	case "create":
		return rl.scheduleCreate(args)
	case "run_now":
		return rl.scheduleRunNow(args)
	case "pause":
		return rl.scheduleSetPaused(args, true)
	case "unpause":
		return rl.scheduleSetPaused(args, false)
	case "delete":
		return rl.scheduleDelete(args)
	case "kill":
		return rl.scheduleKill(args)
	case "inspect":
		return rl.scheduleInspect(args)
	case "sessions":
		return rl.scheduleSessions(args)
	case "session_content":
		return rl.scheduleSessionContent(args)
	default:
		return fmt.Sprintf("invalid action: %q", action), true
	}
}

func requiredScheduleID(args map[string]any) (string, error) {
	id, _ := args["id"].(string)
	if id == "" {
		return "", fmt.Errorf("id is required")
	}
	return id, nil
}

func (rl *ReplyLoop) scheduleList() (string, bool) {
	jobs := rl.cfg.Cron.ListJobs(true)
	if len(jobs) == 0 {
		return "no scheduled jobs", false
	}
	var sb strings.Builder
	for _, j := range jobs {
		status := "enabled"
		if !j.Enabled {
			status = "paused"
		}
		fmt.Fprintf(&sb, "%s (%s) [%s] schedule=%s\n", j.ID, j.Name, status, j.Schedule.Kind)
	}
	return sb.String(), false
}

func (rl *ReplyLoop) scheduleCreate(args map[string]any) (string, bool) {
	recipePath, _ := args["recipe_path"].(string)
	if recipePath == "" {
		return "recipe_path is required for create", true
	}
	if _, err := os.Stat(recipePath); err != nil {
		return fmt.Sprintf("recipe_path does not exist: %s", recipePath), true
	}
	cronExpr, _ := args["cron_expression"].(string)
	if cronExpr == "" {
		return "cron_expression is required for create", true
	}
	executionMode, _ := args["execution_mode"].(string)

	job, err := rl.cfg.Cron.AddRecipeJob(recipePath, executionMode, cron.CronSchedule{Kind: "cron", Expr: cronExpr})
	if err != nil {
		return fmt.Sprintf("error creating scheduled job: %v", err), true
	}
	return fmt.Sprintf("created job %s from recipe %s", job.ID, recipePath), false
}

func (rl *ReplyLoop) scheduleRunNow(args map[string]any) (string, bool) {
	id, err := requiredScheduleID(args)
	if err != nil {
		return err.Error(), true
	}
	sessionID, err := rl.cfg.Cron.RunNow(id)
	if err != nil {
		return fmt.Sprintf("error running job: %v", err), true
	}
	return fmt.Sprintf("ran job %s (session: %s)", id, sessionID), false
}

func (rl *ReplyLoop) scheduleSetPaused(args map[string]any, paused bool) (string, bool) {
	id, err := requiredScheduleID(args)
	if err != nil {
		return err.Error(), true
	}
	job := rl.cfg.Cron.EnableJob(id, !paused)
	if job == nil {
		return fmt.Sprintf("job not found: %s", id), true
	}
	verb := "paused"
	if !paused {
		verb = "unpaused"
	}
	return fmt.Sprintf("%s job: %s", verb, id), false
}

func (rl *ReplyLoop) scheduleDelete(args map[string]any) (string, bool) {
	id, err := requiredScheduleID(args)
	if err != nil {
		return err.Error(), true
	}
	if rl.cfg.Cron.RemoveJob(id) {
		return fmt.Sprintf("deleted job: %s", id), false
	}
	return fmt.Sprintf("job not found: %s", id), true
}

func (rl *ReplyLoop) scheduleKill(args map[string]any) (string, bool) {
	id, err := requiredScheduleID(args)
	if err != nil {
		return err.Error(), true
	}
	if rl.cfg.Cron.Kill(id) {
		return fmt.Sprintf("killed running job: %s", id), false
	}
	return fmt.Sprintf("job %s is not currently running", id), true
}

func (rl *ReplyLoop) scheduleInspect(args map[string]any) (string, bool) {
	id, err := requiredScheduleID(args)
	if err != nil {
		return err.Error(), true
	}
	sessionID, startedAtMS, runningFor, ok := rl.cfg.Cron.Inspect(id)
	if !ok {
		return fmt.Sprintf("job %s is not currently running", id), true
	}
	started := time.UnixMilli(startedAtMS)
	return fmt.Sprintf("job %s running since %s (%s), session: %s",
		id, started.Format("2006-01-02 15:04:05"), runningFor.Round(time.Second), sessionID), false
}

func (rl *ReplyLoop) scheduleSessions(args map[string]any) (string, bool) {
	id, err := requiredScheduleID(args)
	if err != nil {
		return err.Error(), true
	}
	if rl.cfg.Sessions == nil {
		return "session history is not available", true
	}
	limit := 50
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}
	keys := rl.cfg.Sessions.ListKeysWithPrefix(fmt.Sprintf("cron:%s:", id))
	if len(keys) > limit {
		keys = keys[:limit]
	}
	if len(keys) == 0 {
		return fmt.Sprintf("no sessions found for job %s", id), false
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "sessions for job %s:\n", id)
	for _, key := range keys {
		sb.WriteString(key)
		sb.WriteByte('\n')
	}
	return sb.String(), false
}

func (rl *ReplyLoop) scheduleSessionContent(args map[string]any) (string, bool) {
	sessionKey, _ := args["session_id"].(string)
	if sessionKey == "" {
		return "session_id is required for session_content action", true
	}
	if rl.cfg.Sessions == nil {
		return "session history is not available", true
	}
	meta, ok := rl.cfg.Sessions.GetMetadata(sessionKey)
	if !ok {
		return fmt.Sprintf("session not found: %s", sessionKey), true
	}
	history := rl.cfg.Sessions.GetHistory(sessionKey)

	var sb strings.Builder
	fmt.Fprintf(&sb, "session %s (updated: %s):\n", sessionKey, meta.Updated.Format("2006-01-02 15:04:05"))
	for _, m := range history {
		text := m.AsConcatText()
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "[%s] %s\n", m.Role, text)
	}
	return sb.String(), false
}

// platformToolDefs describes the platform__ surface for the provider's tool
// list. Unlike registry tools these are never registered with
// tools.ToolRegistry — dispatchToolRequests recognizes them by name prefix
// before the permission gate ever runs.
func platformToolDefs(mcpEnabled, cronEnabled, isSubagent bool) []map[string]any {
	var defs []map[string]any
	if mcpEnabled {
		defs = append(defs,
			map[string]any{
				"name":        platformReadResource,
				"description": "Read a resource exposed by a connected extension.",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"server": map[string]any{"type": "string", "description": "extension/server name"},
						"uri":    map[string]any{"type": "string", "description": "resource URI"},
					},
					"required": []string{"server", "uri"},
				},
			},
			map[string]any{
				"name":        platformListResources,
				"description": "List resources exposed by one or all connected extensions.",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"server": map[string]any{"type": "string", "description": "extension/server name; omit for all"},
					},
				},
			},
			map[string]any{
				"name":        platformSearchAvailableExt,
				"description": "List configured extensions and their connection status.",
				"parameters":  map[string]any{"type": "object", "properties": map[string]any{}},
			},
		)
		if !isSubagent {
			defs = append(defs, map[string]any{
				"name":        platformManageExtensions,
				"description": "Enable or disable a configured extension.",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action": map[string]any{"type": "string", "enum": []string{"enable", "disable"}},
						"name":   map[string]any{"type": "string"},
					},
					"required": []string{"action", "name"},
				},
			})
		}
	}
	if cronEnabled && !isSubagent {
		defs = append(defs, map[string]any{
			"name":        platformManageSchedule,
			"description": "Manage scheduled jobs: list, create, run_now, pause, unpause, delete, kill, inspect, sessions, session_content.",
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action":          map[string]any{"type": "string", "enum": []string{"list", "create", "run_now", "pause", "unpause", "delete", "kill", "inspect", "sessions", "session_content"}},
					"id":              map[string]any{"type": "string"},
					"recipe_path":     map[string]any{"type": "string"},
					"cron_expression": map[string]any{"type": "string"},
					"execution_mode":  map[string]any{"type": "string"},
					"session_id":      map[string]any{"type": "string"},
					"limit":           map[string]any{"type": "number"},
				},
				"required": []string{"action"},
			},
		})
	}
	return defs
}
