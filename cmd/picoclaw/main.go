// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sipeed/picoclaw/pkg/auth"
	"github.com/sipeed/picoclaw/pkg/config"
	"github.com/sipeed/picoclaw/pkg/cron"
	"github.com/sipeed/picoclaw/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const logo = "🦞"

// formatVersion returns the version string with optional git commit.
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// formatBuildInfo returns build time and go version info.
func formatBuildInfo() (build string, goVer string) {
	build = buildTime
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion() {
	fmt.Printf("%s picoclaw %s\n", logo, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Printf("  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Printf("  Go: %s\n", goVer)
	}
}

// parseLogLevel maps a config/flag string to a logger.LogLevel, defaulting
// to INFO for anything unrecognized.
func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG
	case "warn", "warning":
		return logger.WARN
	case "error":
		return logger.ERROR
	default:
		return logger.INFO
	}
}

// expandPath expands a leading "~" to the user's home directory. "~user"
// forms (someone else's home) are left untouched.
func expandPath(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func getConfigPath() string {
	localConfigPath := filepath.Join(".picoclaw", "config.json")
	if _, err := os.Stat(localConfigPath); err == nil {
		return localConfigPath
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".picoclaw", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func main() {
	if len(os.Args) < 2 {
		if maybeRunZeroConfigWizard() {
			return
		}
		printHelp()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "onboard":
		onboard()
	case "agent":
		maybeRunZeroConfigWizard()
		agentCmd()
	case "memory":
		memoryCmd()
	case "status":
		statusCmd()
	case "auth":
		authCmd()
	case "cron":
		cronCmd()
	case "backup":
		backupCmd()
	case "version", "--version", "-v":
		printVersion()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s picoclaw - Personal AI Assistant v%s\n\n", logo, version)
	fmt.Println("Usage: picoclaw <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  onboard     Initialize picoclaw configuration and workspace")
	fmt.Println("  agent       Interact with the agent directly")
	fmt.Println("  memory      Query and manage the agent's memory store")
	fmt.Println("  auth        Manage authentication (login, logout, status)")
	fmt.Println("  status      Show picoclaw status")
	fmt.Println("  cron        Manage scheduled tasks")
	fmt.Println("  backup      Back up or restore config and workspace")
	fmt.Println("  version     Show version information")
}

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	configPath := getConfigPath()

	fmt.Printf("%s picoclaw Status\n", logo)
	fmt.Printf("Version: %s\n", formatVersion())
	if build, _ := formatBuildInfo(); build != "" {
		fmt.Printf("Build: %s\n", build)
	}
	fmt.Println()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "OK")
	} else {
		fmt.Println("Config:", configPath, "missing")
		return
	}

	workspace := cfg.WorkspacePath()
	if _, err := os.Stat(workspace); err == nil {
		fmt.Println("Workspace:", workspace, "OK")
	} else {
		fmt.Println("Workspace:", workspace, "missing")
	}

	fmt.Printf("Model: %s\n", cfg.Agents.Defaults.Model)

	keyStatus := "not set"
	if cfg.LLM.APIKey != "" {
		keyStatus = "set"
	}
	fmt.Println("LLM API key:", keyStatus)
	if cfg.LLM.BaseURL != "" {
		fmt.Printf("LLM base URL: %s\n", cfg.LLM.BaseURL)
	}

	if store, err := auth.LoadStore(); err == nil && len(store.Credentials) > 0 {
		fmt.Println("\nOAuth/Token Auth:")
		for provider, cred := range store.Credentials {
			status := "authenticated"
			if cred.IsExpired() {
				status = "expired"
			} else if cred.NeedsRefresh() {
				status = "needs refresh"
			}
			fmt.Printf("  %s (%s): %s\n", provider, cred.AuthMethod, status)
		}
	}
}

func authCmd() {
	if len(os.Args) < 3 {
		authHelp()
		return
	}

	switch os.Args[2] {
	case "login":
		authLoginCmd()
	case "logout":
		authLogoutCmd()
	case "status":
		authStatusCmd()
	default:
		fmt.Printf("Unknown auth command: %s\n", os.Args[2])
		authHelp()
	}
}

func authHelp() {
	fmt.Println("\nAuth commands:")
	fmt.Println("  login       Paste a token to authenticate with a provider")
	fmt.Println("  logout      Remove stored credentials")
	fmt.Println("  status      Show current auth status")
	fmt.Println()
	fmt.Println("Login options:")
	fmt.Println("  --provider <name>    Provider to login with (openai, anthropic, qwen, ...)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  picoclaw auth login --provider anthropic")
	fmt.Println("  picoclaw auth logout --provider anthropic")
	fmt.Println("  picoclaw auth status")
}

func authLoginCmd() {
	provider := ""

	args := os.Args[3:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--provider", "-p":
			if i+1 < len(args) {
				provider = args[i+1]
				i++
			}
		}
	}

	if provider == "" {
		fmt.Println("Error: --provider is required")
		return
	}

	if provider == "qwen" {
		cred, err := auth.LoginQwenQRCode()
		if err != nil {
			fmt.Printf("Login failed: %v\n", err)
			os.Exit(1)
		}
		if err := auth.SetCredential(provider, cred); err != nil {
			fmt.Printf("Failed to save credentials: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Login successful!")
		return
	}

	fmt.Printf("Paste your %s token: ", provider)
	cred, err := auth.LoginPasteToken(provider, os.Stdin)
	if err != nil {
		fmt.Printf("Login failed: %v\n", err)
		os.Exit(1)
	}

	if err := auth.SetCredential(provider, cred); err != nil {
		fmt.Printf("Failed to save credentials: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Token saved for %s!\n", provider)
}

func authLogoutCmd() {
	provider := ""

	args := os.Args[3:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--provider", "-p":
			if i+1 < len(args) {
				provider = args[i+1]
				i++
			}
		}
	}

	if provider != "" {
		if err := auth.DeleteCredential(provider); err != nil {
			fmt.Printf("Failed to remove credentials: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Logged out from %s\n", provider)
		return
	}

	if err := auth.DeleteAllCredentials(); err != nil {
		fmt.Printf("Failed to remove credentials: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Logged out from all providers")
}

func authStatusCmd() {
	store, err := auth.LoadStore()
	if err != nil {
		fmt.Printf("Error loading auth store: %v\n", err)
		return
	}

	if len(store.Credentials) == 0 {
		fmt.Println("No authenticated providers.")
		fmt.Println("Run: picoclaw auth login --provider <name>")
		return
	}

	fmt.Println("\nAuthenticated Providers:")
	fmt.Println("------------------------")
	for provider, cred := range store.Credentials {
		status := "active"
		if cred.IsExpired() {
			status = "expired"
		} else if cred.NeedsRefresh() {
			status = "needs refresh"
		}

		fmt.Printf("  %s:\n", provider)
		fmt.Printf("    Method: %s\n", cred.AuthMethod)
		fmt.Printf("    Status: %s\n", status)
		if cred.AccountID != "" {
			fmt.Printf("    Account: %s\n", cred.AccountID)
		}
		if !cred.ExpiresAt.IsZero() {
			fmt.Printf("    Expires: %s\n", cred.ExpiresAt.Format("2006-01-02 15:04"))
		}
	}
}

func cronCmd() {
	if len(os.Args) < 3 {
		cronHelp()
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	storePath := filepath.Join(cfg.WorkspacePath(), "cron", "jobs.json")

	switch os.Args[2] {
	case "list":
		cronListCmd(storePath)
	case "add":
		cronAddCmd(storePath)
	case "remove", "rm":
		if len(os.Args) < 4 {
			fmt.Println("Usage: picoclaw cron remove <job-id>")
			os.Exit(1)
		}
		cronRemoveCmd(storePath, os.Args[3])
	case "enable":
		cronEnableCmd(storePath, false)
	case "disable":
		cronEnableCmd(storePath, true)
	default:
		fmt.Printf("Unknown cron command: %s\n", os.Args[2])
		cronHelp()
	}
}

func cronHelp() {
	fmt.Println("\nCron commands:")
	fmt.Println("  list                       List scheduled jobs")
	fmt.Println("  add <name> <schedule> <message> [--deliver] [--channel X] [--to Y]")
	fmt.Println("  remove <job-id>            Remove a scheduled job")
	fmt.Println("  enable <job-id>            Enable a scheduled job")
	fmt.Println("  disable <job-id>           Disable a scheduled job")
	fmt.Println()
	fmt.Println("Schedule formats:")
	fmt.Println("  every:<ms>                 Fixed interval in milliseconds")
	fmt.Println("  cron:<expr>                Standard 5-field cron expression")
}

func parseCronSchedule(raw string) (cron.CronSchedule, error) {
	switch {
	case strings.HasPrefix(raw, "every:"):
		ms, err := strconv.ParseInt(strings.TrimPrefix(raw, "every:"), 10, 64)
		if err != nil {
			return cron.CronSchedule{}, fmt.Errorf("invalid every:<ms> value: %w", err)
		}
		return cron.CronSchedule{Kind: "every", EveryMS: &ms}, nil
	case strings.HasPrefix(raw, "cron:"):
		return cron.CronSchedule{Kind: "cron", Expr: strings.TrimPrefix(raw, "cron:")}, nil
	default:
		return cron.CronSchedule{}, fmt.Errorf("unrecognized schedule %q (use every:<ms> or cron:<expr>)", raw)
	}
}

func cronListCmd(storePath string) {
	cs := cron.NewCronService(storePath, nil)
	if err := cs.Load(); err != nil {
		fmt.Printf("Error loading cron store: %v\n", err)
		os.Exit(1)
	}

	jobs := cs.ListJobs(true)
	if len(jobs) == 0 {
		fmt.Println("No scheduled jobs.")
		return
	}

	for _, job := range jobs {
		status := "enabled"
		if !job.Enabled {
			status = "disabled"
		}
		fmt.Printf("%s  %-20s  %s  [%s]\n", job.ID, job.Name, job.Schedule.Kind, status)
		if job.Payload.Message != "" {
			fmt.Printf("    message: %s\n", job.Payload.Message)
		}
		if job.State.LastRunAtMS != nil {
			fmt.Printf("    last run: %s\n", time.UnixMilli(*job.State.LastRunAtMS).Format(time.RFC3339))
		}
	}
}

func cronAddCmd(storePath string) {
	args := os.Args[3:]
	deliver := false
	channel := ""
	to := ""
	var positional []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--deliver":
			deliver = true
		case "--channel":
			if i+1 < len(args) {
				channel = args[i+1]
				i++
			}
		case "--to":
			if i+1 < len(args) {
				to = args[i+1]
				i++
			}
		default:
			positional = append(positional, args[i])
		}
	}

	if len(positional) < 3 {
		fmt.Println("Usage: picoclaw cron add <name> <schedule> <message> [--deliver] [--channel X] [--to Y]")
		os.Exit(1)
	}

	name := positional[0]
	schedule, err := parseCronSchedule(positional[1])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	message := strings.Join(positional[2:], " ")

	cs := cron.NewCronService(storePath, nil)
	if err := cs.Load(); err != nil {
		fmt.Printf("Error loading cron store: %v\n", err)
		os.Exit(1)
	}

	job, err := cs.AddJob(name, schedule, message, deliver, channel, to)
	if err != nil {
		fmt.Printf("Error adding job: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Added job %s (%s)\n", job.ID, job.Name)
}

func cronRemoveCmd(storePath, jobID string) {
	cs := cron.NewCronService(storePath, nil)
	if err := cs.Load(); err != nil {
		fmt.Printf("Error loading cron store: %v\n", err)
		os.Exit(1)
	}

	if cs.RemoveJob(jobID) {
		fmt.Printf("Removed job %s\n", jobID)
	} else {
		fmt.Printf("Job %s not found\n", jobID)
		os.Exit(1)
	}
}

func cronEnableCmd(storePath string, disable bool) {
	if len(os.Args) < 4 {
		fmt.Println("Usage: picoclaw cron enable|disable <job-id>")
		os.Exit(1)
	}
	jobID := os.Args[3]

	cs := cron.NewCronService(storePath, nil)
	if err := cs.Load(); err != nil {
		fmt.Printf("Error loading cron store: %v\n", err)
		os.Exit(1)
	}

	job := cs.EnableJob(jobID, !disable)
	if job == nil {
		fmt.Printf("Job %s not found\n", jobID)
		os.Exit(1)
	}

	if disable {
		fmt.Printf("Disabled job %s\n", jobID)
	} else {
		fmt.Printf("Enabled job %s\n", jobID)
	}
}
