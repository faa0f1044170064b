package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/picoclaw/pkg/agent/sandbox"
	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/config"
	"github.com/sipeed/picoclaw/pkg/cron"
	"github.com/sipeed/picoclaw/pkg/session"
)

// jobExecutor routes a cron job's message payload back through the agent
// loop, returning the session id it ran under.
type jobExecutor interface {
	ProcessDirectWithChannel(ctx context.Context, content, sessionKey, channel, chatID string) (string, error)
}

// SessionKeyForJob is the session-store key convention a job's run should
// use: every session belonging to job id is prefixed with it, so the
// "sessions" action can find them all via session.Manager.ListKeysWithPrefix.
func SessionKeyForJob(jobID, runSessionID string) string {
	return fmt.Sprintf("cron:%s:%s", jobID, runSessionID)
}

// CronTool is the agent-facing schedule tool: create, list, and control
// scheduled jobs, and run a job's command payload through the sandbox when
// it fires.
type CronTool struct {
	cronService    *cron.CronService
	executor       jobExecutor
	msgBus         *bus.MessageBus
	sandboxManager sandbox.Sandbox
	execGuard      *ExecTool
	sessions       *session.Manager
	workspace      string
	restrict       bool
	execTimeout    time.Duration
	cfg            *config.Config

	mu      sync.RWMutex
	channel string
	chatID  string
}

// NewCronTool wires a CronTool against an already-running cron service. The
// sandbox used for command-payload jobs is built the same way an agent's
// own sandbox is: from cfg, scoped to workspace/restrict.
func NewCronTool(
	cronService *cron.CronService,
	executor jobExecutor,
	msgBus *bus.MessageBus,
	workspace string,
	restrict bool,
	execTimeout time.Duration,
	cfg *config.Config,
) *CronTool {
	return &CronTool{
		cronService:    cronService,
		executor:       executor,
		msgBus:         msgBus,
		sandboxManager: sandbox.NewFromConfigWithAgent(workspace, restrict, cfg, "cron"),
		execGuard:      NewExecToolWithConfig(workspace, restrict, cfg),
		workspace:      workspace,
		restrict:       restrict,
		execTimeout:    execTimeout,
		cfg:            cfg,
	}
}

// SetSessions wires the session store the "sessions"/"session_content"
// actions read from. Optional; those actions error without it.
func (t *CronTool) SetSessions(sessions *session.Manager) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = sessions
}

func (t *CronTool) Name() string {
	return "cron"
}

func (t *CronTool) Description() string {
	return "Create, list, or control scheduled tasks. Supports one-time tasks (at), recurring intervals (every), and cron expressions, for either a message to process or a shell command to run."
}

func (t *CronTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type": "string",
				"enum": []string{
					"add", "list", "run_now", "pause", "unpause",
					"remove", "kill", "inspect", "sessions", "session_content",
				},
				"description": "Action to perform. add a job; list all jobs visible in this conversation; run_now fires a job immediately; pause/unpause toggle whether a job fires on schedule; remove deletes a job; kill stops a job's in-progress run; inspect reports a running job's session/duration; sessions lists recent runs of a job; session_content reads back one run's transcript.",
			},
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Job name (required for add). A descriptive name for the scheduled task.",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Message to process when the job fires. Required for add unless command is given.",
			},
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to run when the job fires, instead of a message. Runs through the same sandbox and safety guard as the exec tool.",
			},
			"at_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Unix timestamp in seconds for a one-time job. 0 (with every_seconds and cron_expr also unset/zero) means 'not an at job'.",
			},
			"every_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Interval in seconds for a recurring job, e.g. 3600 for hourly. Used when at_seconds is 0 and cron_expr is empty.",
			},
			"cron_expr": map[string]interface{}{
				"type":        "string",
				"description": "Cron expression (e.g. '0 9 * * *'). Used when at_seconds and every_seconds are both 0.",
			},
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "Timezone for interpreting the schedule (e.g. 'Asia/Shanghai', 'UTC'). Defaults to the system timezone.",
			},
			"deliver": map[string]interface{}{
				"type":        "boolean",
				"description": "Send the result straight to the user when the job fires (default true). If false, the agent decides what to do with it.",
			},
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Job ID. Required for run_now, pause, unpause, remove, kill, inspect, and sessions.",
			},
			"session_id": map[string]interface{}{
				"type":        "string",
				"description": "Session key to read back (required for session_content). Use a key returned by the sessions action.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max number of sessions to return for the sessions action (default 50).",
			},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *CronTool) context() (channel, chatID string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.channel, t.chatID
}

func (t *CronTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	action, ok := args["action"].(string)
	if !ok || action == "" {
		return ErrorResult("action is required")
	}

	switch action {
	case "add":
		return t.addJob(args)
	case "list":
		return t.listJobs()
	case "remove":
		return t.removeJob(args)
	case "run_now":
		return t.runNow(args)
	case "pause":
		return t.setPaused(args, true)
	case "unpause":
		return t.setPaused(args, false)
	case "kill":
		return t.killJob(args)
	case "inspect":
		return t.inspectJob(args)
	case "sessions":
		return t.listSessions(args)
	case "session_content":
		return t.sessionContent(args)
	default:
		return ErrorResult(fmt.Sprintf("invalid action: %s", action))
	}
}

func argInt(args map[string]interface{}, key string) (int64, bool) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

// addJob builds a CronSchedule from at_seconds/every_seconds/cron_expr:
// at_seconds wins if positive, then cron_expr if non-empty, then
// every_seconds. A negative at_seconds is always rejected.
func (t *CronTool) addJob(args map[string]interface{}) *ToolResult {
	channel, chatID := t.context()
	if channel == "" || chatID == "" {
		return ErrorResult("no session context (channel/chat_id not set). Use this tool in an active conversation.")
	}

	name, _ := args["name"].(string)
	if name == "" {
		name = "scheduled job"
	}

	message, _ := args["message"].(string)
	command, _ := args["command"].(string)
	if message == "" && command == "" {
		return ErrorResult("message or command is required for add")
	}

	atSeconds, _ := argInt(args, "at_seconds")
	if atSeconds < 0 {
		return ErrorResult("at_seconds must be >= 0")
	}
	everySeconds, _ := argInt(args, "every_seconds")
	cronExpr, _ := args["cron_expr"].(string)
	timezone, _ := args["timezone"].(string)

	var schedule cron.CronSchedule
	schedule.TZ = timezone
	switch {
	case atSeconds > 0:
		schedule.Kind = "at"
		atMS := atSeconds * 1000
		schedule.AtMS = &atMS
	case cronExpr != "":
		schedule.Kind = "cron"
		schedule.Expr = cronExpr
	case everySeconds > 0:
		schedule.Kind = "every"
		everyMS := everySeconds * 1000
		schedule.EveryMS = &everyMS
	default:
		return ErrorResult("one of at_seconds, every_seconds, or cron_expr must be set")
	}

	deliver := true
	if d, ok := args["deliver"].(bool); ok {
		deliver = d
	}

	payload := message
	if payload == "" {
		payload = command
	}
	job, err := t.cronService.AddJob(name, schedule, payload, deliver, channel, chatID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("error creating job: %v", err))
	}
	if command != "" {
		job.Payload = cron.CronPayload{Command: command, Deliver: deliver, Channel: channel, To: chatID}
		if err := t.cronService.UpdateJob(job); err != nil {
			return ErrorResult(fmt.Sprintf("error creating job: %v", err))
		}
	}

	var nextRunInfo string
	if job.State.NextRunAtMS != nil {
		nextTime := time.UnixMilli(*job.State.NextRunAtMS)
		nextRunInfo = fmt.Sprintf(", next run: %s", nextTime.Format("2006-01-02 15:04:05"))
	}
	return SilentResult(fmt.Sprintf("Scheduled job '%s' (id: %s%s)", job.Name, job.ID, nextRunInfo))
}

// listJobs lists jobs scoped to this tool's current channel/chat context,
// so one conversation can't see another's scheduled tasks.
func (t *CronTool) listJobs() *ToolResult {
	channel, chatID := t.context()
	all := t.cronService.ListJobs(true)

	result := "Scheduled jobs:\n"
	count := 0
	for _, j := range all {
		if j.Channel != channel || j.ChatID != chatID {
			continue
		}
		count++

		var scheduleInfo string
		switch j.Schedule.Kind {
		case "every":
			if j.Schedule.EveryMS != nil {
				scheduleInfo = fmt.Sprintf("every %ds", *j.Schedule.EveryMS/1000)
			}
		case "cron":
			scheduleInfo = fmt.Sprintf("cron: %s", j.Schedule.Expr)
		case "at":
			scheduleInfo = "one-time"
		}

		var nextRun string
		if j.State.NextRunAtMS != nil {
			nextTime := time.UnixMilli(*j.State.NextRunAtMS)
			nextRun = fmt.Sprintf(", next: %s", nextTime.Format("2006-01-02 15:04:05"))
		}

		status := "enabled"
		if !j.Enabled {
			status = "disabled"
		}

		result += fmt.Sprintf("- %s [%s] (id: %s, %s%s)\n", j.Name, status, j.ID, scheduleInfo, nextRun)
	}

	if count == 0 {
		return SilentResult("No scheduled jobs")
	}
	return SilentResult(result)
}

func requiredJobID(args map[string]interface{}) (string, error) {
	id, ok := args["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("id is required")
	}
	return id, nil
}

func (t *CronTool) removeJob(args map[string]interface{}) *ToolResult {
	id, err := requiredJobID(args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if t.cronService.RemoveJob(id) {
		return SilentResult(fmt.Sprintf("Removed job: %s", id))
	}
	return ErrorResult(fmt.Sprintf("job not found: %s", id))
}

func (t *CronTool) runNow(args map[string]interface{}) *ToolResult {
	id, err := requiredJobID(args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	sessionID, err := t.cronService.RunNow(id)
	if err != nil {
		return ErrorResult(fmt.Sprintf("error running job: %v", err))
	}
	return SilentResult(fmt.Sprintf("Ran job %s (session: %s)", id, sessionID))
}

func (t *CronTool) setPaused(args map[string]interface{}, paused bool) *ToolResult {
	id, err := requiredJobID(args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	job := t.cronService.EnableJob(id, !paused)
	if job == nil {
		return ErrorResult(fmt.Sprintf("job not found: %s", id))
	}
	verb := "paused"
	if !paused {
		verb = "unpaused"
	}
	return SilentResult(fmt.Sprintf("%s job: %s", verb, id))
}

func (t *CronTool) killJob(args map[string]interface{}) *ToolResult {
	id, err := requiredJobID(args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if t.cronService.Kill(id) {
		return SilentResult(fmt.Sprintf("Killed running job: %s", id))
	}
	return ErrorResult(fmt.Sprintf("job %s is not currently running", id))
}

func (t *CronTool) inspectJob(args map[string]interface{}) *ToolResult {
	id, err := requiredJobID(args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	sessionID, startedAtMS, runningFor, ok := t.cronService.Inspect(id)
	if !ok {
		return ErrorResult(fmt.Sprintf("job %s is not currently running", id))
	}
	started := time.UnixMilli(startedAtMS)
	return SilentResult(fmt.Sprintf("Job %s running since %s (%s), session: %s",
		id, started.Format("2006-01-02 15:04:05"), runningFor.Round(time.Second), sessionID))
}

func (t *CronTool) listSessions(args map[string]interface{}) *ToolResult {
	t.mu.RLock()
	sessions := t.sessions
	t.mu.RUnlock()
	if sessions == nil {
		return ErrorResult("session history is not available")
	}
	id, err := requiredJobID(args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	limit := 50
	if l, ok := argInt(args, "limit"); ok && l > 0 {
		limit = int(l)
	}

	keys := sessions.ListKeysWithPrefix(fmt.Sprintf("cron:%s:", id))
	if len(keys) > limit {
		keys = keys[:limit]
	}
	if len(keys) == 0 {
		return SilentResult(fmt.Sprintf("No sessions found for job %s", id))
	}

	result := fmt.Sprintf("Sessions for job %s:\n", id)
	for _, key := range keys {
		meta, ok := sessions.GetMetadata(key)
		if !ok {
			continue
		}
		result += fmt.Sprintf("- %s (updated: %s): %s\n", key, meta.Updated.Format("2006-01-02 15:04:05"), meta.Description)
	}
	return SilentResult(result)
}

func (t *CronTool) sessionContent(args map[string]interface{}) *ToolResult {
	t.mu.RLock()
	sessions := t.sessions
	t.mu.RUnlock()
	if sessions == nil {
		return ErrorResult("session history is not available")
	}
	sessionKey, ok := args["session_id"].(string)
	if !ok || sessionKey == "" {
		return ErrorResult("session_id is required for session_content action")
	}

	meta, ok := sessions.GetMetadata(sessionKey)
	if !ok {
		return ErrorResult(fmt.Sprintf("session not found: %s", sessionKey))
	}
	history := sessions.GetHistory(sessionKey)

	result := fmt.Sprintf("Session %s (updated: %s):\n", sessionKey, meta.Updated.Format("2006-01-02 15:04:05"))
	for _, m := range history {
		text := m.AsConcatText()
		if text == "" {
			continue
		}
		result += fmt.Sprintf("[%s] %s\n", m.Role, text)
	}
	return SilentResult(result)
}

// ExecuteJob is the cron service's onJob handler: it runs job.Payload
// through either the agent loop (Message) or the sandbox behind the exec
// guard (Command), and returns a short human-readable summary as the
// session id reported back to the service.
func (t *CronTool) ExecuteJob(ctx context.Context, job *cron.CronJob) string {
	if job.Payload.Command != "" {
		return t.executeCommandPayload(ctx, job)
	}
	return t.executeMessagePayload(ctx, job)
}

func (t *CronTool) executeMessagePayload(ctx context.Context, job *cron.CronJob) string {
	if t.executor == nil {
		return ""
	}
	sessionKey := SessionKeyForJob(job.ID, fmt.Sprintf("%d", time.Now().UnixNano()))
	result, err := t.executor.ProcessDirectWithChannel(ctx, job.Payload.Message, sessionKey, job.Channel, job.ChatID)

	if job.Payload.Deliver && t.msgBus != nil {
		content := result
		if err != nil {
			content = fmt.Sprintf("Scheduled job %q failed: %v", job.Name, err)
		}
		t.msgBus.PublishOutbound(bus.OutboundMessage{Channel: job.Channel, ChatID: job.ChatID, Content: content})
	}
	return sessionKey
}

func (t *CronTool) executeCommandPayload(ctx context.Context, job *cron.CronJob) string {
	channel, chatID := job.Payload.Channel, job.Payload.To
	if channel == "" {
		channel = job.Channel
	}
	if chatID == "" {
		chatID = job.ChatID
	}

	if t.execGuard != nil {
		if reason := t.execGuard.guardCommand(job.Payload.Command, t.workspace); reason != "" {
			t.publishCommandResult(channel, chatID, job.Name, fmt.Sprintf("Command blocked: %s", reason))
			return ""
		}
	}

	req := sandbox.ExecRequest{Command: job.Payload.Command, WorkingDir: "."}
	if t.execTimeout > 0 {
		req.TimeoutMs = t.execTimeout.Milliseconds()
	}

	var res *sandbox.ExecResult
	var err error
	if t.sandboxManager != nil {
		res, err = t.sandboxManager.Exec(ctx, req)
	} else {
		err = fmt.Errorf("no sandbox available")
	}

	var out string
	switch {
	case err != nil:
		out = fmt.Sprintf("Scheduled command %q failed: %v", job.Name, err)
	case res.ExitCode != 0:
		out = fmt.Sprintf("Scheduled command %q exited %d:\n%s%s", job.Name, res.ExitCode, res.Stdout, res.Stderr)
	default:
		out = strings.TrimSpace(res.Stdout)
		if out == "" {
			out = "(no output)"
		}
	}

	if job.Payload.Deliver {
		t.publishCommandResult(channel, chatID, job.Name, out)
	}
	return out
}

func (t *CronTool) publishCommandResult(channel, chatID, jobName, content string) {
	if t.msgBus == nil {
		return
	}
	t.msgBus.PublishOutbound(bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: content})
}
