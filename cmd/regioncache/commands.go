package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	regioncache "github.com/huykn/region-cache"
	"github.com/huykn/region-cache/invalidation"
)

func newConsumeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Run the domain event consumer until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			defer reg.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := reg.Options()
			a.logger.Info("consuming domain events",
				zap.String("stream", opts.EventStream),
				zap.String("group", opts.EventGroup),
				zap.String("consumer", opts.PodID))

			err = regioncache.NewDispatcher(reg, nil).Consume(ctx)
			a.logger.Info("consumer stopped", zap.Any("stats", reg.Stats()))
			return err
		},
	}
}

func newEvictCmd(a *app) *cobra.Command {
	var region, key string
	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Evict one key of a region from every process",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			defer reg.Close()

			if err := reg.Evict(cmd.Context(), region, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evicted %s/%s\n", region, key)
			return nil
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "region name")
	cmd.Flags().StringVar(&key, "key", "", "cache key")
	_ = cmd.MarkFlagRequired("region")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	var region string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear a region in every process",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry()
			if err != nil {
				return err
			}
			defer reg.Close()

			if err := reg.Clear(cmd.Context(), region); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", region)
			return nil
		},
	}
	cmd.Flags().StringVar(&region, "region", "", "region name")
	_ = cmd.MarkFlagRequired("region")
	return cmd
}

func newDispatchCmd(a *app) *cobra.Command {
	var (
		kind     string
		actor    string
		affected []string
		params   []string
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run the invalidation of a mutation by hand",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			m := invalidation.Mutation{
				Kind:     invalidation.Kind(kind),
				Actor:    actor,
				Affected: affected,
				Params:   p,
			}
			if dryRun {
				return printPlan(cmd, invalidation.DefaultMap(), m)
			}

			reg, err := a.registry()
			if err != nil {
				return err
			}
			defer reg.Close()

			if err := regioncache.NewDispatcher(reg, nil).OnMutation(cmd.Context(), m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dispatched %s\n", kind)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "mutation kind, e.g. FriendRequestAccepted")
	cmd.Flags().StringVar(&actor, "actor", "", "acting identity")
	cmd.Flags().StringSliceVar(&affected, "affected", nil, "affected identities")
	cmd.Flags().StringArrayVar(&params, "param", nil, "parameter as name=value; repeat for lists")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the entries that would be evicted")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// Skip the root's config and logger setup.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			info := regioncache.GetVersionInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "regioncache %s (%s)\n", info.Version, info.GoVersion)
		},
	}
}

// parseParams turns name=value pairs into a parameter map. Repeating a name
// appends to its list.
func parseParams(pairs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("bad --param %q, want name=value", p)
		}
		out[name] = append(out[name], value)
	}
	return out, nil
}

func printPlan(cmd *cobra.Command, m *invalidation.Map, mut invalidation.Mutation) error {
	params := make(map[string][]string, len(mut.Params)+1)
	for k, v := range mut.Params {
		params[k] = v
	}
	if mut.Actor != "" {
		params[invalidation.ParamActor] = []string{mut.Actor}
	}

	actor, err := m.Resolve(mut.Kind, params)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, r := range actor {
		fmt.Fprintf(out, "sync  %s\n", r)
	}
	for _, id := range mut.Affected {
		targets, err := m.ResolveFor(mut.Kind, id, params)
		if err != nil {
			return err
		}
		for _, r := range targets {
			fmt.Fprintf(out, "async %s (for %s)\n", r, id)
		}
	}
	return nil
}
