// Command dispatchctl is the operator CLI for BloodLift dispatch.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	policyPath string
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "dispatchctl",
		Short:        "Operator tooling for BloodLift dispatch",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.policyPath, "policy", "p", "", "dispatch policy file (default: built-in policy)")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of a table")

	root.AddCommand(
		newDistanceCmd(opts),
		newClassifyCmd(opts),
		newAbuseReportCmd(opts),
		newQueueCmd(opts),
		newTokenCmd(),
	)
	return root
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %d (%q) is not a number", i+1, a)
		}
		out[i] = v
	}
	return out, nil
}
