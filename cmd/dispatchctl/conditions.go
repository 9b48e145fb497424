package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bloodlift/bloodlift/internal/config"
	"github.com/bloodlift/bloodlift/internal/geo"
	"github.com/bloodlift/bloodlift/internal/safety"
	"github.com/bloodlift/bloodlift/internal/weather"
)

func newDistanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "distance LAT1 LON1 LAT2 LON2",
		Short:   "Great-circle distance between two points in kilometres",
		Example: "  dispatchctl distance -- -1.9441 30.0619 -2.0989 29.7556",
		Args:    cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseFloats(args)
			if err != nil {
				return err
			}
			a := geo.Coordinate{Lat: v[0], Lon: v[1]}
			b := geo.Coordinate{Lat: v[2], Lon: v[3]}
			km, err := geo.Distance(a, b)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"from": a, "to": b, "distanceKm": km})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%.3f km\n", km)
			return err
		},
	}
}

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	var (
		obs       weather.Observation
		condition string
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify flight conditions under the dispatch policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			policy, err := config.LoadPolicy(opts.policyPath)
			if err != nil {
				return err
			}
			obs.Condition = weather.ParseCondition(condition)

			assessment, err := safety.NewClassifier(policy.Thresholds).Classify(&obs)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"tier":       assessment.Tier,
					"launchable": assessment.Tier.Launchable(),
					"reason":     assessment.Reason,
				})
			}
			verdict := "launchable"
			if !assessment.Tier.Launchable() {
				verdict = "grounded"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) %s\n", assessment.Tier, verdict, assessment.Reason)
			return err
		},
	}

	f := cmd.Flags()
	f.Float64Var(&obs.WindSpeed, "wind", 0, "wind speed in m/s")
	f.Float64Var(&obs.WindGust, "gust", 0, "wind gust in m/s")
	f.Float64Var(&obs.Temperature, "temp", 20, "temperature in Celsius")
	f.Float64Var(&obs.Visibility, "visibility", 10000, "visibility in metres")
	f.Float64Var(&obs.Precipitation, "precip", 0, "precipitation in mm/h")
	f.StringVar(&condition, "condition", string(weather.ConditionClear), "sky condition, e.g. CLEAR, RAIN, FOG")
	return cmd
}
