package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bloodlift/bloodlift/internal/abuse"
	"github.com/bloodlift/bloodlift/internal/api/models"
	"github.com/bloodlift/bloodlift/internal/config"
	"github.com/bloodlift/bloodlift/internal/database"
	"github.com/bloodlift/bloodlift/internal/delivery"
	"github.com/bloodlift/bloodlift/internal/dispatch"
)

// openStore returns a delivery store: the JSON export at input when set,
// otherwise the configured Postgres database.
func openStore(ctx context.Context, input string) (delivery.Repository, func(), error) {
	if input != "" {
		repo, err := loadExport(ctx, input)
		return repo, func() {}, err
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return delivery.NewPostgresRepository(pool), pool.Close, nil
}

// loadExport reads a JSON array of deliveries as served by the API.
func loadExport(ctx context.Context, path string) (*delivery.InMemoryRepository, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []models.Delivery
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	repo := delivery.NewInMemoryRepository()
	for _, d := range rows {
		req := &delivery.Request{
			ID:                    d.ID,
			OriginFacilityID:      d.OriginFacilityID,
			DestinationFacilityID: d.DestinationFacilityID,
			BloodType:             d.BloodType,
			Quantity:              d.Quantity,
			Urgent:                d.Urgent,
			Status:                d.Status,
			RequestedAt:           d.RequestedAt.Time(),
			CarrierID:             d.CarrierID,
			MissionID:             d.MissionID,
		}
		if d.PlannedDate != nil {
			planned := d.PlannedDate.Time()
			req.PlannedDate = &planned
		}
		if err := repo.Create(ctx, req); err != nil {
			return nil, fmt.Errorf("delivery %s: %w", d.ID, err)
		}
	}
	return repo, nil
}

func newAbuseReportCmd(opts *rootOptions) *cobra.Command {
	var (
		input       string
		flaggedOnly bool
	)
	cmd := &cobra.Command{
		Use:   "abuse-report",
		Short: "Urgent-flag usage per requesting facility",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			policy, err := config.LoadPolicy(opts.policyPath)
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(ctx, input)
			if err != nil {
				return err
			}
			defer closeStore()

			history, err := store.History(ctx)
			if err != nil {
				return err
			}
			report := abuse.NewDetector(policy.Abuse).Report(history)
			if flaggedOnly {
				report = abuse.Flagged(report)
			}

			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			rows := make([][]string, 0, len(report))
			for _, s := range report {
				rows = append(rows, []string{
					s.FacilityID,
					strconv.Itoa(s.Total),
					strconv.Itoa(s.Urgent),
					strconv.FormatFloat(s.UrgentPercentage, 'f', 2, 64),
					strconv.FormatBool(s.Flagged),
				})
			}
			return writeTable(cmd.OutOrStdout(), []string{"FACILITY", "TOTAL", "URGENT", "URGENT%", "FLAGGED"}, rows)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON export of deliveries instead of the database")
	cmd.Flags().BoolVar(&flaggedOnly, "flagged", false, "only list flagged facilities")
	return cmd
}

func newQueueCmd(opts *rootOptions) *cobra.Command {
	var (
		input             string
		carrierID         string
		includeUnassigned bool
	)
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "A carrier's deliveries in dispatch order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx, input)
			if err != nil {
				return err
			}
			defer closeStore()

			coordinator := dispatch.NewCoordinator(dispatch.CoordinatorConfig{Deliveries: store})
			reqs, err := coordinator.Queue(ctx, carrierID, includeUnassigned)
			if err != nil {
				return err
			}

			if opts.jsonOut {
				out := make([]models.Delivery, 0, len(reqs))
				for _, r := range reqs {
					out = append(out, models.NewDelivery(r))
				}
				return writeJSON(cmd.OutOrStdout(), out)
			}
			rows := make([][]string, 0, len(reqs))
			for i, r := range reqs {
				planned := "-"
				if r.PlannedDate != nil {
					planned = r.PlannedDate.Format(time.DateOnly)
				}
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					r.ID,
					r.DestinationFacilityID,
					string(r.Status),
					strconv.FormatBool(r.Urgent),
					planned,
				})
			}
			return writeTable(cmd.OutOrStdout(), []string{"#", "DELIVERY", "DESTINATION", "STATUS", "URGENT", "PLANNED"}, rows)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON export of deliveries instead of the database")
	cmd.Flags().StringVar(&carrierID, "carrier", "", "carrier id (required)")
	cmd.Flags().BoolVar(&includeUnassigned, "include-unassigned", false, "merge pending unassigned deliveries when the carrier is free")
	_ = cmd.MarkFlagRequired("carrier")
	return cmd
}
