package cmd

import (
	"jobstream/internal/pipeline"
	"jobstream/internal/worker"
	"time"

	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	var (
		consumerName string
		queues       []string
		concurrency  int
		baseBackoff  time.Duration
		maxBackoff   time.Duration
		metricsPort  int
	)

	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start worker server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.Run(worker.Config{
				ConsumerName: consumerName,
				Queues:       queues,
				Concurrency:  concurrency,
				BaseBackoff:  baseBackoff,
				MaxBackoff:   maxBackoff,
				MetricsPort:  metricsPort,
			})
		},
	}

	command.Flags().StringVar(&consumerName, "consumer", "worker-1", "Worker consumer name")
	command.Flags().StringSliceVarP(&queues, "queues", "q", pipeline.Queues(), "Queues to consume")
	command.Flags().IntVarP(&concurrency, "concurrency", "c", 1, "Number of consumers")
	command.Flags().DurationVar(&baseBackoff, "base-backoff", 500*time.Millisecond, "Base backoff duration")
	command.Flags().DurationVar(&maxBackoff, "max-backoff", 30*time.Second, "Max backoff duration")
	command.Flags().IntVar(&metricsPort, "metrics-port", 9100, "Port for the prometheus endpoint, 0 disables it")

	return command
}
