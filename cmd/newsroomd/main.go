// Newsroom Pipeline Daemon
//
// Runs the full generate/review/revise pipeline in one process over the
// in-memory bus: chief editor, section editor, writer, and verifier, plus a
// client that submits a request and prints the aggregated report.
//
// Usage:
//
//	go run ./cmd/newsroomd -area "Distributed Systems"
//	go run ./cmd/newsroomd -area "Go Concurrency" -topics 2 -sections 3
//	go build -o newsroomd ./cmd/newsroomd && ./newsroomd -serve
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeeves-cluster-organization/newsroom/capability"
	"github.com/jeeves-cluster-organization/newsroom/client"
	"github.com/jeeves-cluster-organization/newsroom/commbus"
	"github.com/jeeves-cluster-organization/newsroom/config"
	"github.com/jeeves-cluster-organization/newsroom/observability"
	"github.com/jeeves-cluster-organization/newsroom/stage"
)

func main() {
	// Parse command-line flags
	area := flag.String("area", "Distributed Systems", "subject area to write about")
	style := flag.String("style", "technical overview", "writing style hint")
	topics := flag.Int("topics", 0, "max topics (0 = config default)")
	sections := flag.Int("sections", 0, "max sections per topic (0 = config default)")
	minScore := flag.Float64("min-score", 0, "acceptance threshold (0 = config default)")
	retries := flag.Int("retries", 0, "revision budget per section (0 = config default)")
	otlp := flag.String("otlp", "", "OTLP gRPC endpoint for traces (empty = tracing off)")
	serve := flag.Bool("serve", false, "keep stages running after the request until interrupted")
	flag.Parse()

	logger := stage.NewStdLogger()

	cfg := config.DefaultPipelineConfig()
	if *topics > 0 {
		cfg.MaxTopics = *topics
	}
	if *sections > 0 {
		cfg.MaxSections = *sections
	}
	if *minScore > 0 {
		cfg.MinScore = *minScore
	}
	if *retries > 0 {
		cfg.MaxRetries = *retries
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger.Info("newsroom_starting", "version", "1.0.0", "config", cfg.ToMap())

	if *otlp != "" {
		shutdown, err := observability.InitTracer("newsroomd", *otlp)
		if err != nil {
			log.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("tracer_shutdown_failed", "error", err.Error())
			}
		}()
		logger.Info("tracing_configured", "endpoint", *otlp)
	}

	// Bus with logging and per-subject circuit breaking
	bus := commbus.NewInMemoryBus(commbus.DefaultBufferSize)
	bus.AddMiddleware(commbus.NewLoggingMiddleware())
	bus.AddMiddleware(commbus.NewCircuitBreakerMiddleware(5, 10*time.Second))
	defer bus.Close()

	// Capabilities: stubs behind the same retry/fallback wrappers a model
	// deployment would use
	policy := capability.RetryPolicy{
		MaxRetries:  uint64(cfg.CapabilityRetries),
		CallTimeout: cfg.CallTimeoutDuration(),
	}
	planner := capability.NewRetryingPlanner(capability.NewStubPlanner(), policy)
	generator := capability.NewRetryingGenerator(capability.NewStubGenerator(), policy)
	// No model backend wired here, so the fallback scorer runs heuristic-only.
	scorer := capability.NewFallbackScorer(nil)

	opts := stage.Options{
		Logger:         logger,
		Workers:        cfg.WorkerPoolSize,
		MessageTimeout: cfg.CallTimeoutDuration(),
		PublishRetries: uint64(cfg.PublishRetries),
		DedupeWindow:   cfg.DedupeWindow,
	}
	subjects := stage.DefaultSubjects()
	services := []*stage.Service{
		stage.NewChief(planner, subjects, cfg.MaxTopics).Service(bus, opts),
		stage.NewSectionEditor(planner, subjects, cfg.MaxSections).Service(bus, opts),
		stage.NewWriter(generator, subjects).Service(bus, opts),
		stage.NewVerifier(scorer, subjects, cfg.MinScore).Service(bus, opts),
	}

	// A signal during the request cancels it; the client then reports
	// whatever results arrived before the interrupt.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	for _, svc := range services {
		go func(svc *stage.Service) {
			if err := svc.Run(ctx); err != nil {
				logger.Error("stage_exited", "service", svc.Name(), "error", err.Error())
			}
		}(svc)
	}
	logger.Info("newsroom_ready", "stages", len(services))

	cl := client.New(bus, subjects, cfg, logger)
	report, err := cl.Submit(ctx, client.Request{Area: *area, Style: *style})
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	printReport(report)

	if *serve && ctx.Err() == nil {
		fmt.Println("\nStages running. Press Ctrl+C to stop")
		<-ctx.Done()
		logger.Info("shutdown_signal_received")
	}
	stop()
	logger.Info("newsroom_stopped")
}

func printReport(r *client.Report) {
	status := "COMPLETE"
	if !r.Complete {
		status = "INCOMPLETE"
	}
	fmt.Printf("\n=== Report %s (%s, %s) ===\n", r.ConversationID, status, r.Elapsed.Round(time.Millisecond))
	fmt.Printf("Topics: %d, planned sections: %d, results: %d\n",
		len(r.Topics), r.PlannedSections, len(r.Results))
	for _, res := range r.Results {
		marker := ""
		if res.Forced {
			marker = " [forced]"
		}
		fmt.Printf("\n## %s / %s (score %.1f via %s, attempts %d)%s\n%s\n",
			res.Topic, res.Section, res.Score, res.ScoringMethod, res.Attempts, marker, res.Draft)
	}
	for _, miss := range r.Missing {
		fmt.Printf("\nMISSING: section %s of topic %q produced no result\n", miss.SectionID, miss.Topic)
	}
}
