package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fabfab/docpilot/api"
	"github.com/fabfab/docpilot/chat"
	"github.com/fabfab/docpilot/config"
	"github.com/fabfab/docpilot/document"
	"github.com/fabfab/docpilot/llm"
	"github.com/fabfab/docpilot/planner"
	"github.com/fabfab/docpilot/relevance"
	"github.com/fabfab/docpilot/retrieval"
	"github.com/fabfab/docpilot/search"
)

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	// Optional; a missing .env is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ask":
		askCmd(logger, os.Args[2:])
	case "chat":
		chatCmd(logger, os.Args[2:])
	case "serve":
		serveCmd(logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

type pipeline struct {
	provider *document.PDFProvider
	index    *document.PageIndex
	service  *chat.Service
}

// buildPipeline wires config, generation client, index, planner, relevance
// filter, retrieval engine and chat service around one PDF, and waits for the
// text index so context extraction is available immediately.
func buildPipeline(ctx context.Context, cfg config.Config, docPath string, logger *log.Logger) (*pipeline, error) {
	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	provider, err := document.OpenPDF(docPath)
	if err != nil {
		return nil, err
	}

	index := document.NewPageIndex()
	indexed := index.BuildAsync(ctx, provider)

	executor := search.NewExecutor(index, cfg.Search)
	pl := planner.NewPlanner(client, llm.FromConfig(cfg.LLM.KeywordOptions), logger)

	decisions := relevance.NewDecisionCache()
	var filter relevance.Filter
	if cfg.Context.FastMode {
		filter = relevance.NewFastFilter()
	} else {
		filter = relevance.NewLLMFilter(client, llm.FromConfig(cfg.LLM.RelevanceOptions), decisions, cfg.Context.MinRelevantSnippets, logger)
	}

	engine := retrieval.NewEngine(pl, executor, filter, decisions, index, cfg, logger)

	select {
	case <-indexed:
	case <-ctx.Done():
		provider.Close()
		return nil, ctx.Err()
	}
	logger.Printf("indexed %s: %d pages", docPath, index.PageCount())

	return &pipeline{
		provider: provider,
		index:    index,
		service:  chat.NewService(engine, client, cfg, logger),
	}, nil
}

func askCmd(logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("ask", flag.ExitOnError)
	cfgPath := flags.String("config", "docpilot.yaml", "path to config file")
	docPath := flags.String("doc", "", "path to the PDF document")
	question := flags.String("question", "", "question to ask about the document")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse ask flags: %v", err)
	}
	if *docPath == "" {
		logger.Fatal("ask requires --doc")
	}
	if strings.TrimSpace(*question) == "" {
		logger.Fatal("ask requires --question")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	p, err := buildPipeline(ctx, cfg, *docPath, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer p.provider.Close()

	_, assistant, err := p.service.Ask(ctx, *question, nil, func(text string) {
		fmt.Print(text)
	})
	if err != nil {
		logger.Fatalf("ask failed: %v", err)
	}
	fmt.Println()
	printPages(assistant.Pages)
}

func chatCmd(logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	cfgPath := flags.String("config", "docpilot.yaml", "path to config file")
	docPath := flags.String("doc", "", "path to the PDF document")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse chat flags: %v", err)
	}
	if *docPath == "" {
		logger.Fatal("chat requires --doc")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	p, err := buildPipeline(ctx, cfg, *docPath, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	defer p.provider.Close()

	var history []chat.Message
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "exit" || question == "quit" {
			break
		}

		userMsg, assistant, err := p.service.Ask(ctx, question, history, func(text string) {
			fmt.Print(text)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			// Chat failures are rendered inline; the session continues.
			fmt.Printf("[error: %v]\n", err)
			continue
		}
		fmt.Println()
		printPages(assistant.Pages)
		history = append(history, userMsg, assistant)
	}
	if err := scanner.Err(); err != nil {
		logger.Fatalf("read input: %v", err)
	}
}

func serveCmd(logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := flags.String("config", "docpilot.yaml", "path to config file")
	docPath := flags.String("doc", "", "PDF document to load at startup")
	addr := flags.String("addr", ":8080", "listen address")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	server, err := api.New(cfg, logger)
	if err != nil {
		logger.Fatalf("setup: %v", err)
	}
	if *docPath != "" {
		if err := server.Load(*docPath); err != nil {
			logger.Fatalf("load document: %v", err)
		}
	}

	httpServer := &http.Server{Addr: *addr, Handler: server}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s", *addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
}

func printPages(pages []int) {
	if len(pages) == 0 {
		return
	}
	parts := make([]string, len(pages))
	for i, page := range pages {
		parts[i] = fmt.Sprintf("%d", page)
	}
	fmt.Printf("[sources: page %s]\n", strings.Join(parts, ", "))
}

func printUsage() {
	fmt.Println("Usage: docpilot <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  ask      Answer one question about a PDF (--doc, --question)")
	fmt.Println("  chat     Interactive question loop over a PDF (--doc)")
	fmt.Println("  serve    Expose the pipeline over HTTP (--addr, optional --doc)")
}
