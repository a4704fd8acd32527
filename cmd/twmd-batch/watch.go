package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/twmd-batch/internal/batch"
	"github.com/hochfrequenz/twmd-batch/internal/display"
	"github.com/hochfrequenz/twmd-batch/internal/observer"
)

var watchSkipInitial bool

func init() {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run passes on a schedule and when new user directories appear",
		Long: `Run a pass now, then at every tick of watch.cron. With
watch.watch_new_dirs set, creating a user directory starts an extra pass.
Passes never overlap.`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
	addRunFlags(watchCmd)
	watchCmd.Flags().BoolVar(&watchSkipInitial, "skip-initial", false, "wait for the first scheduled tick")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := loadApp(runOverrides(cmd))
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.driver(display.Stdout())
	if err != nil {
		return err
	}

	loop, err := batch.NewLoop(a.cfg.Watch.Cron, func(ctx context.Context) error {
		_, err := d.RunPass(ctx)
		return err
	}, a.logger)
	if err != nil {
		return err
	}
	if !watchSkipInitial {
		loop.Trigger("startup")
	}

	var dw *observer.DirWatcher
	if a.cfg.Watch.WatchNewDirs {
		dw, err = observer.NewDirWatcher(a.cfg.General.WorkDir, a.cfg.General.SkipDirs, func(names []string) {
			a.logger.Info("new user directories", "names", strings.Join(names, ","))
			loop.Trigger("new directories")
		}, a.logger)
		if err != nil {
			return err
		}
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	if dw != nil {
		g.Go(func() error {
			dw.Start(gctx)
			<-gctx.Done()
			dw.Stop()
			return nil
		})
	}

	return g.Wait()
}
