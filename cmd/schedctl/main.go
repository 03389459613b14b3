package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/teleconsult-scheduling/internal/availability"
	"github.com/hackgods/teleconsult-scheduling/internal/config"
	"github.com/hackgods/teleconsult-scheduling/internal/db"
	"github.com/hackgods/teleconsult-scheduling/internal/logging"
	"github.com/hackgods/teleconsult-scheduling/internal/reservation"
	"github.com/hackgods/teleconsult-scheduling/internal/tzconv"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "schedctl",
		Short: "Operations tool for the consultation scheduler",
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(availabilityCmd())
	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(reservationsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				return m.Up(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
				v, err := m.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("schema version: %d\n", v)
				return nil
			})
		},
	})

	return cmd
}

func availabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Show clinic hours for a date in a patient's timezone",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawDate, _ := cmd.Flags().GetString("date")
			tz, _ := cmd.Flags().GetString("tz")

			date, err := tzconv.ParseLocalDate(rawDate)
			if err != nil {
				return err
			}

			ranges, err := availability.DefaultCalendar().RangesForDate(date, tz)
			if err != nil {
				return err
			}
			if len(ranges) == 0 {
				fmt.Printf("%s in %s: no clinic hours\n", date, tz)
				return nil
			}

			fmt.Printf("%s in %s:\n", date, tz)
			for _, r := range ranges {
				end, err := tzconv.DisplayPair(r.End, tz)
				if err != nil {
					return err
				}
				start, err := tzconv.DisplayPair(r.Start, tz)
				if err != nil {
					return err
				}
				fmt.Printf("  %s - %s    (KST %s - %s)\n", start.User, end.User, start.Korea, end.Korea)
			}
			return nil
		},
	}

	cmd.Flags().String("date", time.Now().Format("2006-01-02"), "Local date, YYYY-MM-DD")
	cmd.Flags().String("tz", tzconv.KoreaZone, "IANA timezone of the patient")
	return cmd
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <local-time>",
		Short: "Resolve a wall-clock time to UTC and KST and check clinic hours",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tz, _ := cmd.Flags().GetString("tz")

			local, err := tzconv.ParseLocalDateTime(args[0])
			if err != nil {
				return err
			}
			utc, err := tzconv.ToUTC(local, tz)
			if err != nil {
				return err
			}
			pair, err := tzconv.DisplayPair(utc, tz)
			if err != nil {
				return err
			}

			open := "closed"
			if availability.DefaultCalendar().IsAvailable(utc) {
				open = "open"
			}

			fmt.Printf("utc:    %s\n", utc.Format(time.RFC3339))
			fmt.Printf("local:  %s\n", pair.User)
			fmt.Printf("korea:  %s\n", pair.Korea)
			fmt.Printf("clinic: %s\n", open)
			return nil
		},
	}

	cmd.Flags().String("tz", tzconv.KoreaZone, "IANA timezone the time is written in")
	return cmd
}

func reservationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reservations",
		Short: "List reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawStatus, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := reservation.ListFilter{Limit: limit}
			if rawStatus != "" {
				for _, part := range strings.Split(rawStatus, ",") {
					st, err := reservation.ParseStatus(strings.TrimSpace(part))
					if err != nil {
						return err
					}
					filter.Statuses = append(filter.Statuses, st)
				}
			}

			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool, _ *zap.Logger) error {
				items, err := reservation.NewPgRepository(pool).List(ctx, filter.Normalized())
				if err != nil {
					return err
				}

				fmt.Printf("%-36s %-13s %-20s %s\n", "ID", "STATUS", "CONFIRMED (KST)", "MEETING")
				for _, r := range items {
					confirmed := "-"
					if r.ConfirmedAt != nil {
						confirmed = r.ConfirmedAt.In(tzconv.KST()).Format("2006-01-02 15:04")
					}
					meeting := string(r.MeetingRef)
					if meeting == "" {
						meeting = "-"
					}
					fmt.Printf("%-36s %-13s %-20s %s\n", r.ID, r.Status, confirmed, meeting)
				}
				return nil
			})
		},
	}

	cmd.Flags().String("status", "", "Comma separated statuses to include")
	cmd.Flags().Int("limit", reservation.DefaultListLimit, "Maximum rows to print")
	return cmd
}

func withPool(ctx context.Context, fn func(context.Context, *pgxpool.Pool, *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, pool, logger)
}

func withMigrator(ctx context.Context, fn func(context.Context, *db.Migrator) error) error {
	return withPool(ctx, func(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
		m, err := db.NewMigrator(pool, logger)
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()

		if err := fn(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		return nil
	})
}
