// Command coordinator runs the multi-camera capture coordinator and its two
// viewer-facing streaming servers (§4.C10, §4.C11).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"

	"github.com/rarchambault/Holoportation-2025-2026/config"
	"github.com/rarchambault/Holoportation-2025-2026/coordinator"
	"github.com/rarchambault/Holoportation-2025-2026/document"
	"github.com/rarchambault/Holoportation-2025-2026/logging"
	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
	"github.com/rarchambault/Holoportation-2025-2026/streaming"
)

const (
	flagConfig   = "config"
	flagCalibDir = "calibration-dir"
	flagDebug    = "debug"
)

func main() {
	app := &cli.App{
		Name:  "coordinator",
		Usage: "run the Holoportation capture coordinator and streaming servers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagConfig,
				Aliases:  []string{"c"},
				Usage:    "path to the system configuration JSON file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  flagCalibDir,
				Usage: "directory holding per-camera calibration files",
				Value: ".",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// enumerateNone is the default camera enumerator: it reports no attached
// devices. A deployment wires a real SDK-backed coordinator.Enumerate for
// its camera hardware; this keeps the command runnable (and its streaming
// servers testable end-to-end) without one.
func enumerateNone(ctx context.Context) ([]coordinator.Device, error) {
	return nil, nil
}

func run(c *cli.Context) error {
	logger := logging.NewLogger("coordinator")
	if c.Bool(flagDebug) {
		logger = logging.NewDebugLogger("coordinator")
	}

	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	docServer := streaming.NewDocumentServer(logger)

	coord := coordinator.New(logger, c.String(flagCalibDir), coordinator.Callbacks{
		OnSerialNumber: func(serial string) {
			logger.Infow("camera attached", "serial", serial)
		},
		OnCalibration: func(serial string, transform spatialmath.AffineTransform) {
			logger.Infow("calibration updated", "serial", serial)
		},
		OnDocument: func(serial string, res document.Result) {
			docServer.Publish(res)
		},
	}, cfg.MinPrecision, cfg.HalfRange)

	if err := coord.AddDevices(ctx, enumerateNone); err != nil {
		return errors.Wrap(err, "adding cameras")
	}
	coord.ApplySettings(cfg.Cameras)

	pointServer := streaming.NewPointCloudServer(logger, coord.FusedCloudProvider())
	if err := pointServer.Start(ctx); err != nil {
		return errors.Wrap(err, "starting point cloud server")
	}
	if err := docServer.Start(ctx); err != nil {
		return errors.Wrap(err, "starting document server")
	}

	mergeWorkers := utils.NewStoppableWorkers(func(ctx context.Context) {
		for {
			if !utils.SelectContextOrWait(ctx, 33*time.Millisecond) {
				return
			}
			coord.MergeTick()
		}
	})

	refineIterations, icpIterations := refinementParams(cfg.Cameras)
	refineWorkers := utils.NewStoppableWorkers(func(ctx context.Context) {
		for {
			if !utils.SelectContextOrWait(ctx, 5*time.Second) {
				return
			}
			if err := coord.RefineCalibration(refineIterations, icpIterations); err != nil {
				logger.Warnw("calibration refinement failed", "error", err)
			}
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutting down")
	case <-ctx.Done():
	}

	refineWorkers.Stop()
	mergeWorkers.Stop()
	pointServer.Stop()
	docServer.Stop()
	coord.Stop()
	return nil
}

// refinementParams picks the ICP refinement parameters the periodic
// calibration-refinement worker runs with. Cameras configure their own
// icp_iterations/refine_iterations, but a refinement pass runs across every
// camera at once (§4.C10), so the coordinator takes the largest values any
// configured camera asked for.
func refinementParams(cameras map[string]config.CameraSettings) (refineIterations, icpIterations int) {
	refineIterations, icpIterations = config.DefaultRefineIterations, config.DefaultICPIterations
	for _, settings := range cameras {
		if settings.RefineIterations > refineIterations {
			refineIterations = settings.RefineIterations
		}
		if settings.ICPIterations > icpIterations {
			icpIterations = settings.ICPIterations
		}
	}
	return refineIterations, icpIterations
}
