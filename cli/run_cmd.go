package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ldv-klever/klever-scheduler/balancer"
	"github.com/ldv-klever/klever-scheduler/common/endpoints"
	kerrors "github.com/ldv-klever/klever-scheduler/common/errors"
	"github.com/ldv-klever/klever-scheduler/config"
	"github.com/ldv-klever/klever-scheduler/dispatcher"
	"github.com/ldv-klever/klever-scheduler/domain"
)

type runCmd struct {
	itemsPath string
}

func (c *runCmd) registerFlags() *cobra.Command {
	r := &cobra.Command{
		Use:   "run",
		Short: "run the work items of a job until every item is final",
		Args:  cobra.NoArgs,
	}
	r.Flags().StringVar(&c.itemsPath, "items", "", "JSON or YAML file listing the work items of the job")
	r.MarkFlagRequired("items")
	return r
}

func (c *runCmd) run(cl *CLI, cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(cl.configSelector, cl.configPath)
	if err != nil {
		return kerrors.NewError(err, kerrors.ConfigFailureExitCode)
	}
	summary, err := runJob(ctx, cfg, c.itemsPath)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary)
	if code := summary.ExitCode(); code != kerrors.SuccessExitCode {
		return kerrors.NewError(fmt.Errorf("job finished with status %s", summary.Status), code)
	}
	return nil
}

// runJob wires the components of one job from cfg and runs it. Errors are
// *errors.ExitCodeError.
func runJob(ctx context.Context, cfg *config.JSONConfigs, itemsPath string) (dispatcher.Summary, error) {
	stat, cancelStats := endpoints.MakeStatsReceiver("klever")
	defer cancelStats()

	bc, err := cfg.Balancer.Create()
	if err != nil {
		return dispatcher.Summary{}, kerrors.NewError(err, kerrors.ConfigFailureExitCode)
	}
	dc, err := cfg.Dispatcher.Create()
	if err != nil {
		return dispatcher.Summary{}, kerrors.NewError(err, kerrors.ConfigFailureExitCode)
	}
	tracker, err := cfg.JobTracker.Create(bc, stat)
	if err != nil {
		return dispatcher.Summary{}, kerrors.NewError(err, kerrors.ConfigFailureExitCode)
	}
	workers, err := cfg.Workers.Create(stat)
	if err != nil {
		return dispatcher.Summary{}, kerrors.NewError(err, kerrors.ConfigFailureExitCode)
	}

	jc, err := tracker.JobConfiguration(ctx)
	if err != nil {
		return dispatcher.Summary{}, kerrors.NewError(err, kerrors.JobTrackerFailureExitCode)
	}
	log.Infof("Job configuration from tracker: %s", jc)
	bc = config.MergeJobConfiguration(bc, jc)
	dc.Verifier = jc.Verifier
	dc.ArchiveRoot = jc.ArchiveRoot

	keys, err := readItems(itemsPath)
	if err != nil {
		return dispatcher.Summary{}, kerrors.NewError(err, kerrors.WorkItemsFailureExitCode)
	}

	reg := balancer.NewRegistry()
	b, err := balancer.New(bc, reg, balancer.WithStats(stat.Scope("balancer")))
	if err != nil {
		return dispatcher.Summary{}, kerrors.NewError(err, kerrors.ConfigFailureExitCode)
	}
	d, err := dispatcher.New(dc, b, reg, workers, tracker, stat.Scope("dispatcher"))
	if err != nil {
		return dispatcher.Summary{}, kerrors.NewError(err, kerrors.ConfigFailureExitCode)
	}

	g, gctx := errgroup.WithContext(ctx)
	adminCtx, stopAdmin := context.WithCancel(gctx)
	defer stopAdmin()

	if cfg.Admin.Addr != "" {
		admin := endpoints.NewAdminServer(cfg.Admin.Addr, cfg.Admin.MaxConns, stat)
		endpoints.InstallScheduler(admin, d)
		g.Go(func() error {
			return admin.Serve(adminCtx)
		})
	}

	items := make(chan domain.WorkItemKey)
	g.Go(func() error {
		defer close(items)
		for _, k := range keys {
			select {
			case items <- k:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	var summary dispatcher.Summary
	g.Go(func() error {
		defer stopAdmin()
		var err error
		summary, err = d.Run(gctx, items)
		if err != nil {
			log.Errorf("Job aborted: %v", err)
		}
		// the summary carries the failure
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorf("Admin server failed: %v", err)
	}
	return summary, nil
}
