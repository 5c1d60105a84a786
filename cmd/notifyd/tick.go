package main

import (
	"github.com/spf13/cobra"

	"github.com/MochamaB/FormReporting-sub006/internal/logger"
)

// defaultTickTasks are the sweeps tick runs when --task is not given.
var defaultTickTasks = []string{taskAlertTick, taskRetrySweep, taskEscalation}

// newTickCommand runs sweeps once and exits, for cron deployments without a
// long-running process.
func newTickCommand(opts *rootOptions) *cobra.Command {
	var only []string
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run the periodic sweeps once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.migrate(); err != nil {
				return err
			}
			if err := a.buildServices(); err != nil {
				return err
			}
			if err := a.notifications.Start(ctx); err != nil {
				return err
			}
			sched, err := a.newScheduler()
			if err != nil {
				return err
			}

			tasks := only
			if len(tasks) == 0 {
				tasks = defaultTickTasks
			}
			var failed error
			for _, name := range tasks {
				if err := sched.RunOnce(ctx, name); err != nil {
					a.log.Error("task failed", logger.String("task", name), logger.Error(err))
					failed = err
				}
			}
			return failed
		},
	}
	cmd.Flags().StringSliceVar(&only, "task", nil, "tasks to run instead of alert_tick, retry_sweep and escalation_sweep (also digest_flush, counter_reset, history_cleanup)")
	return cmd
}
