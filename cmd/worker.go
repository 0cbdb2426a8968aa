package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/inventory/config"
	"example.com/backstage/services/inventory/internal/database"
	"example.com/backstage/services/inventory/internal/messaging"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to process trip events from Azure Service Bus and sweep for overdue loans`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Error().Err(err).Msg("Failed to close database connection")
		}
	}()

	deps, err := buildDependencies(cfg, db)
	if err != nil {
		return err
	}
	defer deps.close()

	if deps.bus == nil {
		log.Error().Msg("Azure Service Bus is required for the worker")
		return nil
	}

	// Consume trip progress events published by the transport service
	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.TripEventsQueue).Msg("Starting trip event processor")
		return deps.bus.ProcessMessages(ctx, cfg.Azure.TripEventsQueue, func(ctx context.Context, body []byte) error {
			var event messaging.TripEvent
			if err := json.Unmarshal(body, &event); err != nil {
				log.Error().Err(err).Msg("Dropping malformed trip event")
				return nil
			}
			return deps.loanService.HandleTripEvent(ctx, event)
		})
	})

	// Periodically remind borrowers about overdue loans
	g.Go(func() error {
		log.Info().Dur("interval", cfg.Workflow.OverdueSweepInterval).Msg("Starting overdue loan sweep")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Workflow.OverdueSweepInterval),
			gocron.NewTask(func() {
				count, err := deps.loanService.NotifyOverdue(ctx, time.Now())
				if err != nil {
					log.Error().Err(err).Msg("Failed to sweep overdue loans")
					return
				}
				if count > 0 {
					log.Info().Int("count", count).Msg("Notified overdue loans")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		<-ctx.Done()

		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
