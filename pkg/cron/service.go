// Package cron persists and fires scheduled jobs: one-time ("at"), fixed
// interval ("every"), or cron-expression ("cron") schedules, backing the
// schedule tool's action table.
package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/sipeed/picoclaw/pkg/logger"
)

// CronSchedule describes when a job fires. Exactly one of AtMS, EveryMS, or
// Expr is meaningful, selected by Kind.
type CronSchedule struct {
	Kind    string `json:"kind"` // "at" | "every" | "cron"
	AtMS    *int64 `json:"at_ms,omitempty"`
	EveryMS *int64 `json:"every_ms,omitempty"`
	Expr    string `json:"expr,omitempty"`
	TZ      string `json:"tz,omitempty"`
}

// CronPayload is what runs when the job fires: a message routed back through
// the agent loop, or a raw shell command. Deliver controls whether the
// result is sent straight to the user or handed back to the agent to decide.
// Channel/To carry the delivery target for command jobs created directly
// against a payload (the job's own Channel/ChatID cover message jobs).
type CronPayload struct {
	Message string `json:"message,omitempty"`
	Command string `json:"command,omitempty"`
	Deliver bool   `json:"deliver"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// CronJobState is a job's mutable run-state, kept separate from its
// definition so listing/inspecting can report on it without conflating the
// two.
type CronJobState struct {
	NextRunAtMS      *int64 `json:"next_run_at_ms,omitempty"`
	LastRunAtMS      *int64 `json:"last_run_at_ms,omitempty"`
	LastResult       string `json:"last_result,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	CurrentlyRunning bool   `json:"currently_running"`
	CurrentSessionID string `json:"current_session_id,omitempty"`
	ProcessStartAtMS *int64 `json:"process_start_at_ms,omitempty"`
}

// CronJob is one scheduled task plus its run-state.
type CronJob struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Schedule CronSchedule `json:"schedule"`
	Payload  CronPayload  `json:"payload"`
	Enabled  bool         `json:"enabled"`
	Channel  string       `json:"channel"`
	ChatID   string       `json:"chat_id"`

	CreatedAtMS int64        `json:"created_at_ms"`
	State       CronJobState `json:"state"`

	// ExecutionMode and Source are set for jobs created from a recipe file
	// (the schedule tool's "create" action); both empty for ad-hoc jobs.
	ExecutionMode string `json:"execution_mode,omitempty"`
	Source        string `json:"source,omitempty"`
}

// JobHandler executes a job's payload, returning the session id it ran
// under (for run_now/inspect) or an error. Invoked on the service's own
// goroutine, never on the caller's.
type JobHandler func(job *CronJob) (string, error)

// CronService owns the job store: a single JSON file rewritten atomically
// on every mutation, ticked once a second to fire due jobs.
type CronService struct {
	mu        sync.RWMutex
	storePath string
	jobs      map[string]*CronJob
	handler   JobHandler

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	killFuncs map[string]func()
}

func NewCronService(storePath string, handler JobHandler) *CronService {
	cs := &CronService{
		storePath: storePath,
		jobs:      make(map[string]*CronJob),
		handler:   handler,
		killFuncs: make(map[string]func()),
	}
	_ = cs.Load()
	return cs
}

// SetOnJob installs the handler invoked when a job fires. Callers that
// construct the service before their handler closure has a job's tool
// dependencies available (e.g. a CronTool built from the service itself)
// wire it in afterward via this setter.
func (cs *CronService) SetOnJob(handler JobHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.handler = handler
}

// AddJob creates and persists a new job, enabled by default, with deliver
// controlling whether its result is sent straight to the user.
func (cs *CronService) AddJob(name string, schedule CronSchedule, message string, deliver bool, channel, chatID string) (*CronJob, error) {
	now := time.Now().UnixMilli()
	job := &CronJob{
		ID:          fmt.Sprintf("job_%d", time.Now().UnixNano()),
		Name:        name,
		Schedule:    schedule,
		Payload:     CronPayload{Message: message, Deliver: deliver, Channel: channel, To: chatID},
		Enabled:     true,
		Channel:     channel,
		ChatID:      chatID,
		CreatedAtMS: now,
	}
	job.State.NextRunAtMS = cs.computeNextRun(&schedule, now)

	cs.mu.Lock()
	cs.jobs[job.ID] = job
	cs.mu.Unlock()

	if err := cs.save(); err != nil {
		return nil, err
	}
	return job, nil
}

// AddRecipeJob is the schedule tool's "create" action when given a recipe
// path instead of an ad-hoc message: the id is agent_created_<unix_ts>.
func (cs *CronService) AddRecipeJob(source, executionMode string, schedule CronSchedule) (*CronJob, error) {
	now := time.Now().UnixMilli()
	job := &CronJob{
		ID:            fmt.Sprintf("agent_created_%d", now/1000),
		Name:          filepath.Base(source),
		Schedule:      schedule,
		Enabled:       true,
		Source:        source,
		ExecutionMode: executionMode,
		CreatedAtMS:   now,
	}
	job.State.NextRunAtMS = cs.computeNextRun(&schedule, now)

	cs.mu.Lock()
	cs.jobs[job.ID] = job
	cs.mu.Unlock()

	if err := cs.save(); err != nil {
		return nil, err
	}
	return job, nil
}

func (cs *CronService) RemoveJob(id string) bool {
	cs.mu.Lock()
	_, ok := cs.jobs[id]
	delete(cs.jobs, id)
	cs.mu.Unlock()
	if ok {
		_ = cs.save()
	}
	return ok
}

// EnableJob toggles a job's Enabled flag; this is what the schedule tool's
// pause/unpause actions call (pause = EnableJob(id, false)).
func (cs *CronService) EnableJob(id string, enabled bool) *CronJob {
	cs.mu.Lock()
	job, ok := cs.jobs[id]
	if ok {
		job.Enabled = enabled
		if enabled {
			now := time.Now().UnixMilli()
			job.State.NextRunAtMS = cs.computeNextRun(&job.Schedule, now)
		}
	}
	var out *CronJob
	if ok {
		cp := *job
		out = &cp
	}
	cs.mu.Unlock()
	if ok {
		_ = cs.save()
	}
	return out
}

// UpdateJob replaces the stored job matching job.ID.
func (cs *CronService) UpdateJob(job *CronJob) error {
	cs.mu.Lock()
	_, ok := cs.jobs[job.ID]
	if ok {
		cp := *job
		cs.jobs[job.ID] = &cp
	}
	cs.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not found", job.ID)
	}
	return cs.save()
}

// GetJob returns a copy of one job, or nil if it doesn't exist.
func (cs *CronService) GetJob(id string) *CronJob {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	job, ok := cs.jobs[id]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

// ListJobs returns jobs sorted by creation time. When includeDisabled is
// false, disabled jobs are omitted.
func (cs *CronService) ListJobs(includeDisabled bool) []*CronJob {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	out := make([]*CronJob, 0, len(cs.jobs))
	for _, job := range cs.jobs {
		if !includeDisabled && !job.Enabled {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtMS < out[j].CreatedAtMS })
	return out
}

// RunNow fires a job immediately, outside its normal schedule, and returns
// the session id it ran under.
func (cs *CronService) RunNow(id string) (string, error) {
	cs.mu.Lock()
	job, ok := cs.jobs[id]
	if ok && job.State.CurrentlyRunning {
		cs.mu.Unlock()
		return "", fmt.Errorf("job %q is already running", id)
	}
	cs.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("job %q not found", id)
	}

	sessionID, err := cs.runJobSync(job)
	return sessionID, err
}

// Kill terminates an actively running job's process, if one is registered.
func (cs *CronService) Kill(id string) bool {
	cs.mu.Lock()
	kill, ok := cs.killFuncs[id]
	cs.mu.Unlock()
	if !ok {
		return false
	}
	kill()
	return true
}

// Inspect reports a running job's session id, start time, and running
// duration. Returns ok=false if the job isn't currently running.
func (cs *CronService) Inspect(id string) (sessionID string, startedAtMS int64, runningFor time.Duration, ok bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	job, exists := cs.jobs[id]
	if !exists || !job.State.CurrentlyRunning || job.State.ProcessStartAtMS == nil {
		return "", 0, 0, false
	}
	start := *job.State.ProcessStartAtMS
	return job.State.CurrentSessionID, start, time.Since(time.UnixMilli(start)), true
}

// Status summarizes the service for observability.
func (cs *CronService) Status() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	running := 0
	for _, job := range cs.jobs {
		if job.State.CurrentlyRunning {
			running++
		}
	}
	return map[string]any{
		"jobs":    len(cs.jobs),
		"running": running,
		"enabled": cs.running,
	}
}

// Start begins ticking once a second to fire due jobs. Calling Start twice
// without an intervening Stop is a no-op.
func (cs *CronService) Start() error {
	cs.mu.Lock()
	if cs.running {
		cs.mu.Unlock()
		return nil
	}
	cs.running = true
	cs.stopCh = make(chan struct{})
	stopCh := cs.stopCh
	cs.mu.Unlock()

	cs.wg.Add(1)
	go cs.tickLoop(stopCh)
	return nil
}

func (cs *CronService) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	close(cs.stopCh)
	cs.mu.Unlock()
	cs.wg.Wait()
}

func (cs *CronService) tickLoop(stopCh chan struct{}) {
	defer cs.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			cs.fireDueJobs()
		}
	}
}

func (cs *CronService) fireDueJobs() {
	now := time.Now().UnixMilli()

	cs.mu.Lock()
	due := make([]*CronJob, 0)
	for _, job := range cs.jobs {
		if !job.Enabled || job.State.CurrentlyRunning {
			continue
		}
		if job.State.NextRunAtMS != nil && *job.State.NextRunAtMS <= now {
			due = append(due, job)
		}
	}
	cs.mu.Unlock()

	for _, job := range due {
		go func(j *CronJob) { _, _ = cs.runJobSync(j) }(job)
	}
}

// runJobSync runs one job's handler to completion on the calling goroutine,
// tracking State.CurrentlyRunning/CurrentSessionID so inspect/kill can
// observe it, and returns the session id the handler reports.
func (cs *CronService) runJobSync(job *CronJob) (string, error) {
	cs.mu.Lock()
	job.State.CurrentlyRunning = true
	start := time.Now().UnixMilli()
	job.State.ProcessStartAtMS = &start
	killed := make(chan struct{})
	cs.killFuncs[job.ID] = func() {
		select {
		case <-killed:
		default:
			close(killed)
		}
	}
	cs.mu.Unlock()

	type outcome struct {
		sessionID string
		err       error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		var sessionID string
		var err error
		if cs.handler != nil {
			sessionID, err = cs.handler(job)
		}
		resultCh <- outcome{sessionID, err}
	}()

	var sessionID string
	var err error
	select {
	case res := <-resultCh:
		sessionID, err = res.sessionID, res.err
	case <-killed:
		err = fmt.Errorf("job killed")
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	stored, ok := cs.jobs[job.ID]
	if ok {
		stored.State.CurrentlyRunning = false
		stored.State.ProcessStartAtMS = nil
		stored.State.CurrentSessionID = sessionID
		now := time.Now().UnixMilli()
		stored.State.LastRunAtMS = &now
		if err != nil {
			stored.State.LastError = err.Error()
			logger.WarnCF("cron", "job failed", map[string]any{"job": job.ID, "error": err.Error()})
		} else {
			stored.State.LastResult = sessionID
			stored.State.LastError = ""
		}
		if stored.Schedule.Kind == "every" {
			stored.State.NextRunAtMS = cs.computeNextRun(&stored.Schedule, now)
		} else if stored.Schedule.Kind == "cron" {
			stored.State.NextRunAtMS = cs.computeNextRun(&stored.Schedule, now)
		} else {
			stored.Enabled = false
			stored.State.NextRunAtMS = nil
		}
	}
	delete(cs.killFuncs, job.ID)
	_ = cs.saveLocked()

	return sessionID, err
}

// computeNextRun returns the next fire time in unix milliseconds for a
// schedule, or nil if it cannot be determined (malformed cron expression).
func (cs *CronService) computeNextRun(schedule *CronSchedule, nowMS int64) *int64 {
	switch schedule.Kind {
	case "at":
		if schedule.AtMS == nil {
			return nil
		}
		v := *schedule.AtMS
		return &v
	case "every":
		if schedule.EveryMS == nil {
			return nil
		}
		v := nowMS + *schedule.EveryMS
		return &v
	case "cron":
		loc := time.Local
		if schedule.TZ != "" {
			if tz, err := time.LoadLocation(schedule.TZ); err == nil {
				loc = tz
			}
		}
		from := time.UnixMilli(nowMS).In(loc)
		next, err := gronx.NextTickAfter(schedule.Expr, from, false)
		if err != nil {
			logger.WarnCF("cron", "invalid cron expression", map[string]any{"expr": schedule.Expr, "error": err.Error()})
			return nil
		}
		v := next.UnixMilli()
		return &v
	default:
		return nil
	}
}

// Load reads the job store file from disk, replacing in-memory state. A
// missing file is not an error (first run).
func (cs *CronService) Load() error {
	data, err := os.ReadFile(cs.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var jobs []*CronJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("parse cron store: %w", err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.jobs = make(map[string]*CronJob, len(jobs))
	for _, j := range jobs {
		j.State.CurrentlyRunning = false
		j.State.ProcessStartAtMS = nil
		cs.jobs[j.ID] = j
	}
	return nil
}

func (cs *CronService) save() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.saveLocked()
}

// saveLocked writes the store atomically with 0600 permissions: scheduled
// job payloads may embed commands or message text not meant for other
// local users to read.
func (cs *CronService) saveLocked() error {
	if cs.storePath == "" {
		return nil
	}
	dir := filepath.Dir(cs.storePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	jobs := make([]*CronJob, 0, len(cs.jobs))
	for _, j := range cs.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAtMS < jobs[j].CreatedAtMS })

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "cron-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, cs.storePath); err != nil {
		return err
	}
	cleanup = false
	return nil
}
