// PicoClaw - Ultra-lightweight personal AI agent
// License: MIT

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sipeed/picoclaw/pkg/agent"
)

func memoryCmd() {
	if len(os.Args) < 3 {
		memoryHelp()
		return
	}

	subcommand := os.Args[2]

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	workspace := cfg.WorkspacePath()
	store := agent.NewMemoryStore(workspace)

	switch subcommand {
	case "recall", "search":
		query, topK := parseRecallArgs(os.Args[3:])
		if query == "" {
			fmt.Println("Usage: picoclaw memory recall <query> [--top N]")
			os.Exit(1)
		}
		memoryRecallCmd(store, query, topK)
	case "remember", "add":
		content := strings.Join(os.Args[3:], " ")
		if strings.TrimSpace(content) == "" {
			fmt.Println("Usage: picoclaw memory remember <content>")
			os.Exit(1)
		}
		memoryRememberCmd(store, content)
	case "list", "show":
		memoryListCmd(store)
	case "clear":
		confirmed := false
		for _, arg := range os.Args[3:] {
			if arg == "--yes" || arg == "-y" {
				confirmed = true
			}
		}
		memoryClearCmd(workspace, confirmed)
	default:
		fmt.Printf("Unknown memory command: %s\n", subcommand)
		memoryHelp()
	}
}

func parseRecallArgs(args []string) (query string, topK int) {
	topK = 5
	var queryParts []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--top", "-n":
			if i+1 < len(args) {
				fmt.Sscanf(args[i+1], "%d", &topK)
				i++
			}
		default:
			queryParts = append(queryParts, args[i])
		}
	}

	query = strings.Join(queryParts, " ")
	return
}

func memoryRecallCmd(store *agent.MemoryStore, query string, topK int) {
	hits, err := store.SearchRelevant(query, topK, 0)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(hits) == 0 {
		fmt.Println("No memories found.")
		return
	}

	fmt.Printf("Found %d memories:\n\n", len(hits))
	for i, h := range hits {
		fmt.Printf("  %d. [%.0f%% match] (%s) %s\n", i+1, h.Score*100, h.Source, h.Text)
	}
}

func memoryRememberCmd(store *agent.MemoryStore, content string) {
	if err := store.AppendToday(content); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Stored: %s\n", content)
}

func memoryListCmd(store *agent.MemoryStore) {
	ctx := store.GetFullMemoryContext()
	if strings.TrimSpace(ctx) == "" {
		fmt.Println("Memory store is empty.")
		return
	}
	fmt.Println(ctx)
}

func memoryClearCmd(workspace string, confirmed bool) {
	memoryDir := workspace + "/memory"
	if _, err := os.Stat(memoryDir); os.IsNotExist(err) {
		fmt.Println("Memory store is already empty.")
		return
	}

	if !confirmed {
		fmt.Print("Clear all memories? This cannot be undone. [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Cancelled.")
			return
		}
	}

	if err := os.RemoveAll(memoryDir); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Memory store cleared.")
}

func memoryHelp() {
	fmt.Println("Usage: picoclaw memory <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  recall <query>     Search memories by semantic similarity")
	fmt.Println("  remember <text>    Store a memory in today's daily note")
	fmt.Println("  list               Show the full memory context")
	fmt.Println("  clear              Delete all memories")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  recall --top N     Number of results (default 5)")
	fmt.Println("  clear --yes        Skip confirmation prompt")
}
