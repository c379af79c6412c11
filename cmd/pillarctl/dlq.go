package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"pillar.vc/assistant/core/config"
	"pillar.vc/assistant/internal/queue"
)

func dlqCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered Slack events",
	}
	cmd.AddCommand(dlqListCmd())
	cmd.AddCommand(dlqReplayCmd())
	return cmd
}

func dlqListCmd() *cobra.Command {
	var (
		limit  int64
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, client, err := connectRedis(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			letters, err := queue.DeadLetters(cmd.Context(), client, cfg.Pipeline.RedisDLQStream, limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(letters)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEVENT\tKIND\tCHANNEL\tATTEMPT\tERROR")
			for _, dl := range letters {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					dl.ID, dl.Event.ID, dl.Event.Kind, dl.Event.Invocation.ChannelID, dl.Attempt, dl.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int64VarP(&limit, "limit", "n", 50, "maximum dead letters to show")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func dlqReplayCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "replay [message-id...]",
		Short: "Move dead letters back onto the event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("name at least one message id, or pass --all")
			}
			cfg, client, err := connectRedis(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := cmd.Context()
			letters, err := queue.DeadLetters(ctx, client, cfg.Pipeline.RedisDLQStream, 1000)
			if err != nil {
				return err
			}
			want := make(map[string]bool, len(args))
			for _, id := range args {
				want[id] = true
			}

			replayed := 0
			for _, dl := range letters {
				if !all && !want[dl.ID] {
					continue
				}
				if err := queue.Replay(ctx, client, cfg.Pipeline.RedisStream, cfg.Pipeline.RedisDLQStream, dl); err != nil {
					return fmt.Errorf("replaying %s: %w", dl.ID, err)
				}
				delete(want, dl.ID)
				replayed++
			}
			for id := range want {
				fmt.Fprintf(cmd.ErrOrStderr(), "not found in dlq: %s\n", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d event(s)\n", replayed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "replay every dead letter")
	return cmd
}

func connectRedis(cmd *cobra.Command) (config.Config, *redis.Client, error) {
	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		return config.Config{}, nil, err
	}
	opts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(cmd.Context()).Err(); err != nil {
		client.Close()
		return config.Config{}, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return cfg, client, nil
}
