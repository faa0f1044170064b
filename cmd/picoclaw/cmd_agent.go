// PicoClaw - Ultra-lightweight personal AI agent
// License: MIT

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sipeed/picoclaw/pkg/agent"
	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/providers"
	"github.com/sipeed/picoclaw/pkg/tokenizer"
	"github.com/sipeed/picoclaw/pkg/tools"
)

func agentCmd() {
	message := ""
	sessionKey := "cli:default"
	modelOverride := ""

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--debug", "-d":
			logger.SetLevel(logger.DEBUG)
			fmt.Println("Debug mode enabled")
		case "-m", "--message":
			if i+1 < len(args) {
				message = args[i+1]
				i++
			}
		case "-s", "--session":
			if i+1 < len(args) {
				sessionKey = args[i+1]
				i++
			}
		case "--model", "-model":
			if i+1 < len(args) {
				modelOverride = args[i+1]
				i++
			}
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if modelOverride != "" {
		cfg.Agents.Defaults.Model = modelOverride
	}

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		fmt.Printf("Error creating provider: %v\n", err)
		os.Exit(1)
	}

	inst := agent.NewAgentInstance(nil, &cfg.Agents.Defaults, cfg, provider)
	rl := newAgentReplyLoop(inst)

	if message != "" {
		ctx := context.Background()
		response, err := rl.Run(ctx, sessionKey, message, nil)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\n%s %s\n", logo, response)
		return
	}

	fmt.Printf("%s Interactive mode (Ctrl+D to exit)\n\n", logo)
	simpleChatLoop(rl, sessionKey)
}

// newAgentReplyLoop wires a ReplyLoop from an already-configured agent
// instance, using permissive defaults for permissions and loop detection
// suited to a single-user CLI session.
func newAgentReplyLoop(inst *agent.AgentInstance) *agent.ReplyLoop {
	perms := tools.NewPermissionStore()
	perms.SetDefaultRule(tools.RuleAlwaysAllow)

	completionProvider := providers.NewFlatProviderAdapter(inst.Model, inst.Provider, inst.Model)

	return agent.NewReplyLoop(agent.ReplyLoopConfig{
		Provider:     completionProvider,
		Tools:        inst.Tools,
		Sessions:     inst.Sessions,
		Permissions:  perms,
		LoopDetector: tools.NewLoopDetector(tools.DefaultLoopDetectorConfig()),
		Counter:      tokenizer.NewCounter(),
		ContextLimit: inst.ContextWindow,
		MaxTurns:     inst.MaxIterations,
		SystemPrompt: inst.ContextBuilder.BuildSystemPromptForSession(inst.ID),
		MCP:          inst.MCP,
		Cron:         inst.Cron,
	})
}

// simpleChatLoop reads lines from stdin and drives the reply loop one turn
// at a time until EOF or an explicit exit/quit command.
func simpleChatLoop(rl *agent.ReplyLoop, sessionKey string) {
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Printf("%s You: ", logo)

		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return
		}

		ctx := context.Background()
		response, err := rl.Run(ctx, sessionKey, input, nil)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s %s\n\n", logo, response)
	}
}
