package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/teleconsult-scheduling/internal/availability"
	"github.com/hackgods/teleconsult-scheduling/internal/logging"
	"github.com/hackgods/teleconsult-scheduling/internal/tzconv"
)

type simConfig struct {
	baseURL  string
	duration time.Duration
	workers  int
	propose  float64
	approve  float64
	env      string
}

// proposed is a reservation created during the run and the instant its patient asked for.
type proposed struct {
	id    uuid.UUID
	start time.Time
}

type pool struct {
	mu    sync.RWMutex
	items []proposed
}

func (p *pool) add(item proposed) {
	p.mu.Lock()
	p.items = append(p.items, item)
	p.mu.Unlock()
}

func (p *pool) pick(rng *rand.Rand) (proposed, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.items) == 0 {
		return proposed{}, false
	}
	return p.items[rng.Intn(len(p.items))], true
}

func (p *pool) size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

type simulator struct {
	cfg      simConfig
	client   *http.Client
	calendar *availability.Calendar
	logger   *zap.Logger
	created  pool

	proposeStats opStats
	approveStats opStats
	readStats    opStats
	listStats    opStats
	availStats   opStats
}

var simZones = []string{
	"America/Los_Angeles",
	"America/New_York",
	"Europe/London",
	"Asia/Tokyo",
	"Australia/Sydney",
}

func main() {
	var cfg simConfig

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive concurrent traffic against a running api-server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.workers <= 0 {
				return errors.New("--workers must be > 0")
			}
			if cfg.duration <= 0 {
				return errors.New("--duration must be > 0")
			}
			if cfg.propose < 0 || cfg.approve < 0 || cfg.propose+cfg.approve > 1 {
				return errors.New("--propose and --approve must be non-negative and sum to at most 1")
			}

			logger := logging.New(cfg.env)
			defer func() { _ = logger.Sync() }()

			sim := &simulator{
				cfg:      cfg,
				client:   &http.Client{Timeout: 10 * time.Second},
				calendar: availability.DefaultCalendar(),
				logger:   logger,
			}
			sim.run(cmd.Context())
			sim.report(cmd.OutOrStdout())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.baseURL, "url", envOr("SIM_API_BASE_URL", "http://localhost:8080"), "api-server base URL")
	f.DurationVar(&cfg.duration, "duration", 30*time.Second, "how long to run")
	f.IntVar(&cfg.workers, "workers", 10, "concurrent workers")
	f.Float64Var(&cfg.propose, "propose", 0.3, "share of requests that propose a reservation")
	f.Float64Var(&cfg.approve, "approve", 0.3, "share of requests that approve a random reservation")
	f.StringVar(&cfg.env, "env", envOr("APP_ENV", "dev"), "logging environment")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *simulator) run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.duration)
	defer cancel()

	s.logger.Info("simulation starting",
		zap.String("url", s.cfg.baseURL),
		zap.Duration("duration", s.cfg.duration),
		zap.Int("workers", s.cfg.workers))

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			s.worker(ctx, rand.New(rand.NewSource(seed)))
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()

	s.logger.Info("simulation complete", zap.Int("reservations", s.created.size()))
}

func (s *simulator) worker(ctx context.Context, rng *rand.Rand) {
	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.cfg.propose:
			s.propose(ctx, rng)
		case r < s.cfg.propose+s.cfg.approve:
			// workers often pick the same reservation, so approvals race
			s.approve(ctx, rng)
		default:
			s.read(ctx, rng)
		}
	}
}

// bookableInstant picks an in-hours KST minute within the next four weeks.
func (s *simulator) bookableInstant(rng *rand.Rand) time.Time {
	windows := s.calendar.Windows()
	today := tzconv.DateOf(time.Now().In(tzconv.KST()))
	for {
		day := today.AddDays(1 + rng.Intn(28))
		for _, w := range windows {
			if w.Weekday != day.Weekday() {
				continue
			}
			minute := w.StartMinute + rng.Intn((w.EndMinute-w.StartMinute-30)/10+1)*10
			return time.Date(day.Year, day.Month, day.Day, minute/60, minute%60, 0, 0, tzconv.KST()).UTC()
		}
	}
}

func (s *simulator) propose(ctx context.Context, rng *rand.Rand) {
	tz := simZones[rng.Intn(len(simZones))]
	instant := s.bookableInstant(rng)
	local, err := tzconv.ToZone(instant, tz)
	if err != nil {
		s.proposeStats.record(0, outcomeError)
		return
	}

	body := map[string]any{
		"timezone": tz,
		"slots":    []map[string]any{{"rank": 1, "local_time": local.String()}},
	}
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	latency, res := s.call(ctx, http.MethodPost, "/reservations", "patient", body, http.StatusCreated, &created)
	if res == outcomeSuccess && created.ID != uuid.Nil {
		s.created.add(proposed{id: created.ID, start: instant})
	}
	s.proposeStats.record(latency, res)
}

func (s *simulator) approve(ctx context.Context, rng *rand.Rand) {
	p, ok := s.created.pick(rng)
	if !ok {
		return
	}
	latency, res := s.call(ctx, http.MethodPost, "/reservations/"+p.id.String()+"/approve", "clinic",
		map[string]any{"start": p.start}, http.StatusOK, nil)
	s.approveStats.record(latency, res)
}

func (s *simulator) read(ctx context.Context, rng *rand.Rand) {
	switch rng.Intn(3) {
	case 0:
		p, ok := s.created.pick(rng)
		if !ok {
			return
		}
		latency, res := s.call(ctx, http.MethodGet, "/reservations/"+p.id.String(), "", nil, http.StatusOK, nil)
		s.readStats.record(latency, res)
	case 1:
		statuses := []string{"requested", "approved", "requested,needs_change"}
		path := fmt.Sprintf("/reservations?status=%s&limit=20&offset=%d", statuses[rng.Intn(len(statuses))], rng.Intn(5)*20)
		latency, res := s.call(ctx, http.MethodGet, path, "", nil, http.StatusOK, nil)
		s.listStats.record(latency, res)
	default:
		date := tzconv.DateOf(time.Now()).AddDays(rng.Intn(14))
		path := fmt.Sprintf("/availability?date=%s&tz=%s", date, simZones[rng.Intn(len(simZones))])
		latency, res := s.call(ctx, http.MethodGet, path, "", nil, http.StatusOK, nil)
		s.availStats.record(latency, res)
	}
}

// call sends one request and decodes the body into out when it succeeds.
func (s *simulator) call(ctx context.Context, method, path, actor string, body any, okStatus int, out any) (time.Duration, outcome) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, outcomeError
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.baseURL+path, reader)
	if err != nil {
		return 0, outcomeError
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return latency, outcomeCanceled
		}
		return latency, outcomeError
	}
	defer resp.Body.Close()

	res := classify(resp.StatusCode, nil, okStatus)
	if res == outcomeSuccess && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			res = outcomeError
		}
	}
	return latency, res
}

func (s *simulator) report(w io.Writer) {
	line := strings.Repeat("=", 80)
	fmt.Fprintf(w, "\n%s\nSIMULATION REPORT\n%s\n", line, line)
	fmt.Fprintf(w, "duration=%s workers=%d reservations=%d\n\n", s.cfg.duration, s.cfg.workers, s.created.size())

	s.proposeStats.summarize().write(w, "propose")
	s.approveStats.summarize().write(w, "approve")
	s.readStats.summarize().write(w, "read")
	s.listStats.summarize().write(w, "list")
	s.availStats.summarize().write(w, "availability")
}
