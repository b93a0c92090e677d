package main

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-cluster/internal/config"
	"github.com/gezibash/arc-cluster/internal/group"
)

func newMembersCmd() *cobra.Command {
	v := viper.New()
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "members",
		Short: "List group members",
		Long: `Join the group as a transient node and print its view of the members.

Examples:
  arc-cluster members --seed 10.0.0.2:7946
  arc-cluster members --seed 10.0.0.2:7946 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			rt, err := clientRuntime(cfg, "members")
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx, cancel := context.WithTimeout(rt.Context(), timeout)
			defer cancel()

			p, err := joinTransient(ctx, rt, cfg, "members")
			if err != nil {
				return err
			}

			tbl := outputFor(cmd).From(cfg.Cluster.GroupName, p.Self()).Table("members", "Name", "Addr", "Status", "RTT", "Local")
			for _, m := range p.Members() {
				tbl.AddRow(memberRow(m)...)
			}
			return tbl.Render()
		},
	}

	config.BindCommonFlags(cmd, v)
	config.BindClusterFlags(cmd, v)
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall command timeout")
	return cmd
}

func memberRow(m group.MemberInfo) []string {
	rtt := "-"
	if m.LatencyNs > 0 {
		rtt = time.Duration(m.LatencyNs).Round(time.Microsecond).String()
	}
	return []string{m.Name, m.Addr, m.Status, rtt, strconv.FormatBool(m.IsLocal)}
}
