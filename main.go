// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// docchat is an interactive terminal client for a document-grounded chat
// backend. Ask questions against your uploaded documents and get streamed,
// source-annotated answers.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/jeranaias/docchat/internal/api"
	"github.com/jeranaias/docchat/internal/chat"
	"github.com/jeranaias/docchat/internal/config"
	"github.com/jeranaias/docchat/internal/history"
	"github.com/jeranaias/docchat/internal/model"
	"github.com/jeranaias/docchat/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// inputCLI provides input history and line editing for the REPL.
// USABILITY: Supports arrow keys for history navigation and line editing.
type inputCLI struct {
	line        *liner.State
	historyFile string
}

func newInputCLI() *inputCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	cli := &inputCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "input_history"),
	}
	cli.loadHistory()
	return cli
}

func (c *inputCLI) loadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// readInput reads a line of input with the given prompt.
func (c *inputCLI) readInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

func (c *inputCLI) saveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// close saves history and closes the liner.
func (c *inputCLI) close() {
	c.saveHistory()
	c.line.Close()
}

// =============================================================================
// MAIN
// =============================================================================

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (default ~/.docchat/config.toml)")
		backendURL = flag.String("backend", "", "backend base URL (overrides config)")
		userID     = flag.String("user", "", "user id (overrides config)")
		quiet      = flag.Bool("quiet", false, "suppress the welcome banner")
	)
	flag.Parse()

	// Request logging is operational noise on a terminal; keep it out of
	// the chat output unless DOCCHAT_DEBUG is set.
	if os.Getenv("DOCCHAT_DEBUG") == "" {
		log.SetOutput(io.Discard)
	}

	if err := run(*configPath, *backendURL, *userID, *quiet); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, backendURL, userID string, quiet bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if userID != "" {
		cfg.UserID = userID
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	config.SetGlobal(cfg)

	client := api.NewClient(cfg.BackendURL).WithTimeout(cfg.RequestTimeout())
	controller := chat.NewController(client, cfg.UserID)

	if cfg.History.Enabled {
		path, err := cfg.HistoryPath()
		if err == nil {
			store, err := history.Open(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: history cache disabled: %v\n", err)
			} else {
				defer store.Close()
				controller.WithHistory(store)
			}
		}
	}

	// Hot-reload timeout changes; backend and user changes need a restart.
	if watchPath, err := resolveConfigPath(configPath); err == nil {
		if w, werr := config.NewWatcher(watchPath, func(next *config.Config) {
			client.WithTimeout(next.RequestTimeout())
		}); werr == nil {
			if werr := w.Watch(); werr == nil {
				defer w.Close()
			}
		}
	}

	// Stream answers to the terminal as they arrive.
	controller.SetStreamSink(func(delta string) {
		fmt.Print(delta)
	})

	ctx := context.Background()
	if _, err := controller.CheckConnectivity(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: backend unreachable: %v\n", err)
	}
	if err := controller.RefreshConversations(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load conversations: %v\n", err)
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if !quiet && interactive {
		printWelcome(controller, cfg)
	}

	input := newInputCLI()
	defer input.close()

	// First Ctrl+C cancels the in-flight answer; at the prompt it exits.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigChan {
			controller.CancelActive()
		}
	}()

	return repl(ctx, controller, input)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return config.ConfigPath()
}

// =============================================================================
// REPL
// =============================================================================

func repl(ctx context.Context, controller *chat.Controller, input *inputCLI) error {
	for {
		line, err := input.readInput("docchat> ")
		if err != nil {
			// Ctrl+C at the prompt or EOF (Ctrl+D) exits gracefully.
			fmt.Println()
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			cont, err := handleSlashCommand(ctx, controller, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[Error] %v\n", err)
			}
			if !cont {
				return nil
			}
			continue
		}

		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}

		sendMessage(ctx, controller, line)
	}
}

// sendMessage submits one question and renders the streamed answer.
func sendMessage(ctx context.Context, controller *chat.Controller, text string) {
	controller.SetInput(text)

	fmt.Println()
	err := controller.Send(ctx)
	fmt.Println()

	if notice := controller.TakeNotice(); notice != "" {
		fmt.Fprintf(os.Stderr, "[Error] %s\n", notice)
		return
	}
	if err != nil {
		return
	}

	// Show where the answer came from.
	msgs := controller.Messages()
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role == model.RoleAssistant && len(last.Sources) > 0 {
		fmt.Printf("Sources: %s\n", strings.Join(last.Sources, ", "))
	}
	fmt.Println()
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand executes a slash command. Returns false to exit.
func handleSlashCommand(ctx context.Context, controller *chat.Controller, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	switch parts[0] {
	case "/help", "/?":
		printHelp()
		return true, nil

	case "/new":
		if err := controller.NewChat(); err != nil {
			return true, err
		}
		fmt.Println("Started a new chat.")
		return true, nil

	case "/list":
		if err := controller.RefreshConversations(ctx); err != nil {
			return true, err
		}
		printConversations(controller)
		return true, nil

	case "/open":
		if len(parts) != 2 {
			return true, fmt.Errorf("usage: /open <number>")
		}
		return true, openConversation(ctx, controller, parts[1])

	case "/status":
		return true, printStatus(ctx, controller)

	case "/upload":
		if len(parts) < 2 {
			return true, fmt.Errorf("usage: /upload <file> [file...]")
		}
		return true, uploadDocuments(ctx, controller, parts[1:])

	case "/clear-docs":
		if err := controller.ClearDocuments(ctx); err != nil {
			return true, err
		}
		fmt.Println("All documents cleared.")
		return true, nil

	case "/quit", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command %s (try /help)", parts[0])
	}
}

func openConversation(ctx context.Context, controller *chat.Controller, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("usage: /open <number>")
	}
	convs := controller.Conversations()
	if n < 1 || n > len(convs) {
		return fmt.Errorf("no conversation %d (see /list)", n)
	}

	conv := convs[n-1]
	if err := controller.OpenConversation(ctx, conv.ID); err != nil {
		return err
	}

	fmt.Printf("Opened: %s\n\n", conv.Title)
	for _, m := range controller.Messages() {
		fmt.Printf("%s: %s\n", m.Role.DisplayName(), m.DisplayText())
		if len(m.Sources) > 0 {
			fmt.Printf("  Sources: %s\n", strings.Join(m.Sources, ", "))
		}
	}
	fmt.Println()
	return nil
}

func uploadDocuments(ctx context.Context, controller *chat.Controller, paths []string) error {
	results, err := controller.UploadDocuments(ctx, paths)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Status == "success" {
			fmt.Printf("  %s: %d chunks indexed\n", r.Filename, r.ChunksProcessed)
		} else {
			fmt.Printf("  %s: %s (%s)\n", r.Filename, r.Status, r.Message)
		}
	}
	return nil
}

func printStatus(ctx context.Context, controller *chat.Controller) error {
	status, err := controller.CheckConnectivity(ctx)
	if err != nil {
		fmt.Println("Backend:   offline")
		return err
	}
	fmt.Println("Backend:   connected")
	fmt.Printf("Documents: %d (%d chunks)\n", status.DocumentCount, status.TotalChunks)
	for _, d := range status.Documents {
		fmt.Printf("  - %s [%s]\n", d.Filename, d.Status)
	}
	if conv := controller.Current(); conv != nil {
		fmt.Printf("Chat:      %s\n", conv.Title)
	} else {
		fmt.Println("Chat:      (new)")
	}
	return nil
}

func printConversations(controller *chat.Controller) {
	convs := controller.Conversations()
	if len(convs) == 0 {
		fmt.Println("No conversations yet.")
		return
	}
	for i, c := range convs {
		marker := " "
		if controller.Current() == c {
			marker = "*"
		}
		fmt.Printf("%s %2d. %s\n", marker, i+1, util.TruncateWidth(c.Title, 60))
	}
}

func printWelcome(controller *chat.Controller, cfg *config.Config) {
	fmt.Println("docchat - ask questions about your documents")
	fmt.Printf("Backend: %s", cfg.BackendURL)
	if controller.Connected() {
		fmt.Println(" [connected]")
	} else {
		fmt.Println(" [offline - cached history only]")
	}
	fmt.Println("Type /help for commands, Ctrl+C to cancel an answer, Ctrl+D to quit.")
	fmt.Println()
}

func printHelp() {
	fmt.Println(`Commands:
  /new               start a new chat
  /list              list conversations
  /open <number>     open a conversation from the list
  /status            backend and document status
  /upload <files>    upload documents for retrieval
  /clear-docs        remove all uploaded documents
  /help              show this help
  /quit              exit

Anything else is sent as a question.`)
}
