package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/doublelife/doublelife-kit/pkg/persistence"
)

type recordView struct {
	Identity         string `yaml:"identity"`
	Name             string `yaml:"name"`
	Mode             string `yaml:"mode"`
	StartTime        string `yaml:"startTime"`
	ExtensionMinutes int    `yaml:"extensionMinutes"`
	Remaining        string `yaml:"remaining"`
	SnapshotBytes    int    `yaml:"snapshotBytes"`
}

func newSessionsCmd(flags *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions persisted for restore on the next start",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}
			gw, err := openGateway(cmd.Context(), cfg.Persistence, log)
			if err != nil {
				return err
			}
			defer gw.Close()

			records, err := gw.List(cmd.Context())
			if err != nil {
				return err
			}
			now := time.Now()
			views := make([]recordView, 0, len(records))
			for _, r := range records {
				views = append(views, view(r, cfg.MaxDuration.Std(), now))
			}

			out := cmd.OutOrStdout()
			if output == "yaml" {
				return yaml.NewEncoder(out).Encode(views)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTITY\tNAME\tMODE\tSTARTED\tEXTENSION\tREMAINING")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dm\t%s\n", v.Identity, v.Name, v.Mode, v.StartTime, v.ExtensionMinutes, v.Remaining)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table or yaml")
	return cmd
}

func view(r persistence.Record, fallback time.Duration, now time.Time) recordView {
	base := r.BaseDuration
	if base <= 0 {
		base = fallback
	}
	remaining := base + time.Duration(r.ExtensionMinutes)*time.Minute - now.Sub(r.StartTime)
	rem := "expired"
	if remaining > 0 {
		rem = remaining.Truncate(time.Second).String()
	}
	return recordView{
		Identity:         r.Identity.String(),
		Name:             r.Name,
		Mode:             r.Mode,
		StartTime:        persistence.FormatStartTime(r.StartTime),
		ExtensionMinutes: r.ExtensionMinutes,
		Remaining:        rem,
		SnapshotBytes:    len(r.Snapshot),
	}
}
