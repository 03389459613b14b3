package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/teleconsult-scheduling/internal/availability"
	"github.com/hackgods/teleconsult-scheduling/internal/config"
	"github.com/hackgods/teleconsult-scheduling/internal/db"
	"github.com/hackgods/teleconsult-scheduling/internal/logging"
	"github.com/hackgods/teleconsult-scheduling/internal/provisioning"
	redisclient "github.com/hackgods/teleconsult-scheduling/internal/redis"
	"github.com/hackgods/teleconsult-scheduling/internal/reservation"
	"github.com/hackgods/teleconsult-scheduling/internal/tzconv"
)

// patientZones are the places the clinic's overseas patients usually book from.
var patientZones = []string{
	"America/Los_Angeles",
	"America/New_York",
	"America/Sao_Paulo",
	"Europe/London",
	"Europe/Berlin",
	"Asia/Tokyo",
	"Asia/Singapore",
	"Australia/Sydney",
	"Pacific/Auckland",
	"Asia/Seoul",
}

var rejectReasons = []string{"clinic_full", "out_of_scope", "duplicate_request", "patient_unreachable"}

type seeder struct {
	svc      *reservation.Service
	calendar *availability.Calendar
	logger   *zap.Logger
	now      time.Time
	faker    *gofakeit.Faker
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	// the seed runs alone, an in-process lock is enough and keeps Redis optional
	svc := reservation.NewService(
		reservation.NewPgRepository(pool),
		redisclient.NewLocalLocker(cfg.LockWait),
		provisioning.NewLocal(logger),
		cfg,
		reservation.WithLogger(logger.Named("reservation")),
	)

	s := &seeder{
		svc:      svc,
		calendar: availability.DefaultCalendar(),
		logger:   logger,
		now:      time.Now().UTC(),
		faker:    gofakeit.New(uint64(time.Now().UnixNano())),
	}

	count := 200
	if raw := os.Getenv("SEED_RESERVATIONS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			count = n
		}
	}

	if err := s.seedReservations(context.Background(), count); err != nil {
		logger.Fatal("seed reservations", zap.Error(err))
	}

	logger.Info("seed complete")
}

func (s *seeder) seedReservations(ctx context.Context, count int) error {
	s.logger.Info("seeding reservations", zap.Int("count", count))

	created, skipped := 0, 0
	for i := 0; i < count; i++ {
		tz := patientZones[s.faker.Number(0, len(patientZones)-1)]
		in, err := s.proposal(tz, s.faker.Number(1, reservation.MaxSlots))
		if err != nil {
			return err
		}

		res, err := s.svc.ProposeSlots(reservation.WithActor(ctx, reservation.ActorPatient), in)
		if err != nil {
			// a DST fold can move a converted time out of clinic hours
			s.logger.Debug("proposal skipped", zap.String("timezone", tz), zap.Error(err))
			skipped++
			continue
		}
		created++

		if err := s.advance(ctx, res); err != nil {
			s.logger.Warn("advance failed", zap.String("reservation_id", res.ID.String()), zap.Error(err))
		}

		if created%50 == 0 {
			s.logger.Info("reservations seeded", zap.Int("done", created), zap.Int("total", count))
		}
	}

	s.logger.Info("reservations seeded", zap.Int("created", created), zap.Int("skipped", skipped))
	return nil
}

// advance walks a fresh reservation a random distance through the workflow.
func (s *seeder) advance(ctx context.Context, res *reservation.Reservation) error {
	clinic := reservation.WithActor(ctx, clinicActor(s.faker))
	first := res.RequestedSlots.Slots()[0].Start

	switch s.faker.Number(0, 5) {
	case 0:
		return nil
	case 1:
		code := rejectReasons[s.faker.Number(0, len(rejectReasons)-1)]
		_, err := s.svc.Reject(clinic, res.ID, code, fmt.Sprintf("seeded for %s", s.faker.Name()))
		return err
	case 2:
		in, err := s.proposal(tzconv.KoreaZone, s.faker.Number(1, 2))
		if err != nil {
			return err
		}
		_, err = s.svc.RequestChange(clinic, res.ID, in)
		return err
	default:
		if _, err := s.svc.Approve(clinic, res.ID, first, 0); err != nil {
			return err
		}
		var err error
		switch s.faker.Number(0, 3) {
		case 0:
			_, err = s.svc.MarkCompleted(clinic, res.ID)
		case 1:
			_, err = s.svc.MarkNoShow(clinic, res.ID)
		}
		return err
	}
}

// proposal picks distinct bookable KST instants and expresses them in tz.
func (s *seeder) proposal(tz string, n int) (reservation.ProposeInput, error) {
	windows := s.calendar.Windows()
	seen := make(map[time.Time]bool, n)
	in := reservation.ProposeInput{Timezone: tz}

	for rank := 1; len(in.Slots) < n; {
		day := tzconv.DateOf(s.now.In(tzconv.KST())).AddDays(s.faker.Number(1, 28))
		var w *availability.Window
		for i := range windows {
			if windows[i].Weekday == day.Weekday() {
				w = &windows[i]
				break
			}
		}
		if w == nil {
			continue
		}

		// 10 minute grid, leaving room for the default consultation length
		minute := w.StartMinute + s.faker.Number(0, (w.EndMinute-w.StartMinute-30)/10)*10
		instant := time.Date(day.Year, day.Month, day.Day, minute/60, minute%60, 0, 0, tzconv.KST()).UTC()
		if seen[instant] {
			continue
		}
		seen[instant] = true

		local, err := tzconv.ToZone(instant, tz)
		if err != nil {
			return in, err
		}
		in.Slots = append(in.Slots, reservation.LocalSlotInput{Rank: rank, Local: local})
		rank++
	}
	return in, nil
}

func clinicActor(f *gofakeit.Faker) string {
	return "dr." + strings.ToLower(f.LastName())
}
