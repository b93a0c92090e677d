package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-cluster/internal/cel"
	"github.com/gezibash/arc-cluster/internal/config"
	"github.com/gezibash/arc-cluster/internal/provider"
	"github.com/gezibash/arc-cluster/pkg/metadata"
)

func newLookupCmd() *cobra.Command {
	v := viper.New()
	var (
		qualifiers []string
		wait       bool
		filterExpr string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "lookup NAME TYPE",
		Short: "Discover remote implementations of a capability",
		Long: `Join the group as a transient node, run a discovery round for the
capability and print the handles that answered.

The filter is a CEL expression over address, handle, name, type_name and
qualifiers.

Examples:
  arc-cluster lookup Greeter IGreeter --seed 10.0.0.2:7946
  arc-cluster lookup Greeter IGreeter -q eu --seed 10.0.0.2:7946
  arc-cluster lookup Greeter IGreeter --filter 'address.startsWith("eu-")'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := metadata.New(args[0], args[1], qualifiers...)
			if err := key.Validate(); err != nil {
				return err
			}

			var filter *cel.Filter
			if filterExpr != "" {
				f, err := cel.Compile(filterExpr)
				if err != nil {
					return err
				}
				filter = f
			}

			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			rt, err := clientRuntime(cfg, "lookup")
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx, cancel := context.WithTimeout(rt.Context(), timeout)
			defer cancel()

			p, err := joinTransient(ctx, rt, cfg, "lookup")
			if err != nil {
				return err
			}

			opts := []provider.LookupOption{provider.WithFilter(filter)}
			if wait {
				opts = append(opts, provider.WithWait())
			}
			handles, err := p.Lookup(ctx, key, opts...)
			if err != nil {
				return fmt.Errorf("lookup %s: %w", key, err)
			}

			tbl := outputFor(cmd).From(cfg.Cluster.GroupName, p.Self()).Table("lookup", "Address", "Handle", "Key").
				Empty(fmt.Sprintf("no implementations of %s found", key))
			for _, h := range handles {
				tbl.AddRow(h.Address(), strconv.FormatUint(h.Handle(), 10), h.Key().String())
			}
			return tbl.Render()
		},
	}

	config.BindCommonFlags(cmd, v)
	config.BindClusterFlags(cmd, v)
	cmd.Flags().StringSliceVarP(&qualifiers, "qualifier", "q", nil, "qualifier the implementation must carry (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the discovery round before printing")
	cmd.Flags().StringVar(&filterExpr, "filter", "", "CEL expression handles must satisfy")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")
	return cmd
}
