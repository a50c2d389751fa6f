// HealthBot - AI-powered patient education chat.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fabiolm/healthbot/internal/api"
	"github.com/fabiolm/healthbot/internal/config"
	"github.com/fabiolm/healthbot/internal/flow"
	"github.com/fabiolm/healthbot/internal/graph"
	"github.com/fabiolm/healthbot/internal/llm"
	"github.com/fabiolm/healthbot/internal/nodes"
	"github.com/fabiolm/healthbot/internal/search"
	"github.com/fabiolm/healthbot/internal/session"
	"github.com/fabiolm/healthbot/internal/store"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	serve := flag.Bool("serve", false, "run the HTTP API server instead of the interactive console")
	flag.Parse()

	if *serve {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
		slog.SetDefault(logger)
	} else {
		// Keep logs off the chat transcript in interactive mode.
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		slog.SetDefault(logger)
	}

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		fmt.Fprintln(os.Stderr, "💡 Configure your .env file with OPENAI_API_KEY and TAVILY_API_KEY.")
		os.Exit(1)
	}

	llmClient, err := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	if err != nil {
		slog.Error("Failed to create LLM client", "error", err)
		os.Exit(1)
	}
	searchClient, err := search.NewClient(cfg.TavilyAPIKey)
	if err != nil {
		slog.Error("Failed to create search client", "error", err)
		os.Exit(1)
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize checkpoint database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close checkpoint database", "error", closeErr)
		}
	}()

	engine, err := graph.NewEngine(llmClient, searchClient, repo)
	if err != nil {
		slog.Error("Failed to build conversation engine", "error", err)
		os.Exit(1)
	}

	if *serve {
		runServer(cfg, engine, repo)
		return
	}
	runInteractive(cfg, engine)
}

func runServer(cfg *config.Config, engine *flow.Engine, repo *store.SQLiteStore) {
	handler := api.NewHandler(engine, repo)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background sweep of threads idle past the session TTL.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := repo.CleanupStale(ctx, cfg.SessionTTL)
				if err != nil {
					slog.Error("Stale session cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("Evicted stale sessions", "count", n)
				}
			}
		}
	}()

	go func() {
		slog.Info("Starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)
	}
}

func runInteractive(cfg *config.Config, engine *flow.Engine) {
	printBanner(cfg)

	threadID := "session-" + uuid.NewString()[:8]
	runID := "run-" + uuid.NewString()[:8]
	fmt.Printf("📝 Session ID: %s\n🆔 Run ID: %s\n\n", threadID, runID)

	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)
	shown := 0

	status, err := engine.Advance(ctx, threadID, graph.StartUpdate(runID))
	if err != nil {
		fmt.Printf("❌ Failed to start session: %v\n", err)
		os.Exit(1)
	}
	shown = showNewMessages(status, shown)

	for !status.Done {
		var input string

		switch status.Pending {
		case nodes.StepReceiveTopic:
			input = promptUser(reader, "Enter a health topic you'd like to learn about:")
			if isExitCommand(input) {
				fmt.Println("\n👋 Goodbye! Take care!")
				return
			}
		case nodes.StepReceiveAnswer:
			input = promptAnswer(reader)
		case nodes.StepReceiveContinue:
			input = promptUser(reader, "Continue with another topic? (yes/no):")
		default:
			fmt.Printf("❌ Unexpected pending step: %s\n", status.Pending)
			return
		}

		next, err := engine.Advance(ctx, threadID, graph.UserTurn(input))
		if err != nil {
			// The checkpoint is intact; the same step stays pending.
			fmt.Printf("\n⚠️  Something went wrong (%v). Let's try that again.\n", err)
			continue
		}
		status = next
		shown = showNewMessages(status, shown)
	}

	fmt.Println("👋 Thank you for using HealthBot! We hope you learned something new today!")
}

func printBanner(cfg *config.Config) {
	divider := strings.Repeat("=", 70)
	fmt.Println("\n" + divider)
	fmt.Println("  🏥 HEALTHBOT - AI-Powered Patient Education System")
	fmt.Println(divider)
	fmt.Printf("  Model: %s | Search: Tavily (advanced)\n", cfg.OpenAIModel)
	fmt.Println(divider + "\n")
}

func promptUser(reader *bufio.Reader, prompt string) string {
	fmt.Printf("👤 %s\n   > ", prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}

// promptAnswer re-prompts until the input is one of A/B/C/D in any case.
func promptAnswer(reader *bufio.Reader) string {
	for {
		input := promptUser(reader, "Your answer (A, B, C or D):")
		switch strings.ToUpper(input) {
		case "A", "B", "C", "D":
			return input
		}
		fmt.Println("⚠️  Please type A, B, C or D.")
	}
}

func isExitCommand(input string) bool {
	switch strings.ToLower(input) {
	case "exit", "quit", "bye":
		return true
	}
	return false
}

func showNewMessages(status *flow.Status, shown int) int {
	msgs := session.Messages(status.Store)
	for _, msg := range msgs[shown:] {
		if msg.Role != session.RoleAssistant {
			continue
		}
		fmt.Printf("\n🤖 HealthBot:\n%s\n", msg.Text())
	}
	return len(msgs)
}
