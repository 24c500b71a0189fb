// seed writes 20 monitors into the job index of the local dev database.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ErlanBelekov/alerting-scheduler/config"
	"github.com/ErlanBelekov/alerting-scheduler/internal/clock"
	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
	"github.com/ErlanBelekov/alerting-scheduler/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/alerting-scheduler/internal/schedule"
	"github.com/ErlanBelekov/alerting-scheduler/internal/usecase"
)

type monitorSpec struct {
	id      string
	url     string
	method  string
	every   int // minutes; 0 means use cron
	cron    string
	enabled bool
}

var monitors = []monitorSpec{
	// Healthy endpoints, triggers should stay quiet
	{"seed-001", "https://httpbin.org/get", "GET", 1, "", true},
	{"seed-002", "https://httpbin.org/get", "GET", 1, "", true},
	{"seed-003", "https://httpbin.org/post", "POST", 2, "", true},
	{"seed-004", "https://httpbin.org/put", "PUT", 5, "", true},
	{"seed-005", "https://httpbin.org/patch", "PATCH", 5, "", true},

	// 5xx, the critical trigger fires every run
	{"seed-006", "https://httpbin.org/status/500", "GET", 1, "", true},
	{"seed-007", "https://httpbin.org/status/503", "GET", 2, "", true},
	{"seed-008", "https://httpbin.org/status/502", "GET", 0, "*/3 * * * *", true},

	// 404, the client error trigger fires
	{"seed-009", "https://httpbin.org/status/404", "GET", 1, "", true},
	{"seed-010", "https://httpbin.org/status/404", "GET", 0, "*/2 * * * *", true},

	// Slower than the input timeout, the error trigger fires
	{"seed-011", "https://httpbin.org/delay/35", "GET", 2, "", true},
	{"seed-012", "https://httpbin.org/delay/35", "GET", 0, "*/5 * * * *", true},

	// Slow but inside the timeout, the latency trigger fires
	{"seed-013", "https://httpbin.org/delay/3", "GET", 1, "", true},
	{"seed-014", "https://httpbin.org/delay/2", "GET", 0, "* * * * *", true},

	// Disabled, tracked by the sweeper but never scheduled
	{"seed-015", "https://httpbin.org/get", "GET", 1, "", false},
	{"seed-016", "https://httpbin.org/status/500", "GET", 1, "", false},

	// More happy path on cron schedules
	{"seed-017", "https://httpbin.org/get", "GET", 0, "* * * * *", true},
	{"seed-018", "https://httpbin.org/get", "GET", 0, "*/2 * * * *", true},
	{"seed-019", "https://httpbin.org/post", "POST", 0, "*/4 * * * *", true},
	{"seed-020", "https://httpbin.org/delete", "DELETE", 0, "*/10 * * * *", true},
}

var triggers = []domain.Trigger{
	{Name: "server error", Severity: domain.SeverityCritical, Condition: domain.Condition{Field: domain.FieldStatusCode, Op: domain.OpGTE, Value: 500}},
	{Name: "client error", Severity: domain.SeverityLow, Condition: domain.Condition{Field: domain.FieldStatusCode, Op: domain.OpEQ, Value: 404}},
	{Name: "unreachable", Severity: domain.SeverityHigh, Condition: domain.Condition{Field: domain.FieldError, Op: domain.OpEQ, Value: 1}},
	{Name: "slow", Severity: domain.SeverityLow, Condition: domain.Condition{Field: domain.FieldDurationMS, Op: domain.OpGT, Value: 1500}},
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v (is DATABASE_URL set? run: direnv allow)", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	monitorUsecase := usecase.NewMonitorUsecase(postgres.NewJobStore(pool, cfg.JobIndex, cfg.ShardCount), clock.Real())

	// Existing ids are skipped, so re-runs are idempotent
	var created, skipped int
	for _, m := range monitors {
		sched, err := m.schedule()
		if err != nil {
			log.Fatalf("schedule for %s: %v", m.id, err)
		}
		_, err = monitorUsecase.Create(ctx, usecase.CreateMonitorInput{
			ID:      m.id,
			Enabled: m.enabled,
			MonitorInput: usecase.MonitorInput{
				Name:     m.method + " " + m.url,
				Schedule: sched,
				Inputs:   []domain.Input{{URL: m.url, Method: m.method, TimeoutSeconds: 30}},
				Triggers: triggers,
			},
		})
		switch {
		case errors.Is(err, domain.ErrVersionConflict):
			skipped++
		case err != nil:
			log.Fatalf("create monitor %s: %v", m.id, err)
		default:
			created++
		}
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Index:            %s (%d shards)\n", cfg.JobIndex, cfg.ShardCount)
	fmt.Printf("  Monitors created: %d  (skipped %d already existing)\n", created, skipped)
	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  Step 1: check which monitors this node schedules:")
	fmt.Println()
	fmt.Println("    curl -s http://localhost:8080/_stats")
	fmt.Println()
	fmt.Println("  Step 2: force a full sweep instead of waiting for the next period:")
	fmt.Println()
	fmt.Println("    curl -s -X POST http://localhost:8080/_sweep")
	fmt.Println()
	fmt.Println("  Step 3: wait a couple of minutes, then list the runs of a monitor:")
	fmt.Println()
	fmt.Println("    curl -s http://localhost:8080/_monitors/seed-006/runs")
	fmt.Println()
	fmt.Println("  What to expect:")
	fmt.Println("    seed-001..005, 017..020  →  status ok")
	fmt.Println("    seed-006..012            →  status triggered (or error for 011..012)")
	fmt.Println("    seed-013..014            →  status triggered by the slow trigger")
	fmt.Println("    seed-015..016            →  no runs, the monitors are disabled")
}

func (m monitorSpec) schedule() (schedule.Schedule, error) {
	if m.every > 0 {
		return schedule.NewInterval(m.every, schedule.Minutes)
	}
	return schedule.NewCron(m.cron, "UTC")
}
