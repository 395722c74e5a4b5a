package cmd

import (
	"context"
	"encoding/json"
	"jobstream/internal/config"
	"jobstream/internal/infra/redisq"
	"os"

	"github.com/spf13/cobra"
)

func failedCmd() *cobra.Command {
	var limit int64
	var command = &cobra.Command{
		Use:   "failed",
		Short: "List the most recently failed tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			cli := redisq.New(cfg.Redis, cfg.Queue)
			defer cli.Close()

			ctx := context.Background()
			if err := cli.Connect(ctx); err != nil {
				return err
			}

			tasks, err := cli.ListFailed(ctx, limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			for _, t := range tasks {
				if err := enc.Encode(t); err != nil {
					return err
				}
			}
			return nil
		},
	}

	command.Flags().Int64VarP(&limit, "limit", "n", 50, "Maximum number of tasks to list")
	return command
}
