package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	midi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"

	"github.com/quillaudio/microtune/internal/config"
	"github.com/quillaudio/microtune/internal/delivery"
	"github.com/quillaudio/microtune/internal/device"
	"github.com/quillaudio/microtune/internal/diag"
	"github.com/quillaudio/microtune/internal/dispatch"
	"github.com/quillaudio/microtune/internal/event"
	"github.com/quillaudio/microtune/internal/lifecycle"
	"github.com/quillaudio/microtune/internal/loopback"
	"github.com/quillaudio/microtune/internal/retune"
	"github.com/quillaudio/microtune/internal/route"
	"github.com/quillaudio/microtune/internal/transport"
	"github.com/quillaudio/microtune/internal/tuning"
)

// RunOptions holds run command flags.
type RunOptions struct {
	Input  string
	Record string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}
	cmd := &cobra.Command{
		Use:           "run <config.yaml>",
		Short:         "Run the retuning engine",
		Long:          "Opens the configured destinations, listens on the input port, and\nroutes notes through the retuning pipeline until interrupted.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(rootOpts, opts, args[0], cmd)
		},
	}
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "input MIDI port name (required)")
	cmd.Flags().StringVar(&opts.Record, "record", "", "record diagnostics to a sqlite database at this path")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runEngine(rootOpts *RootOptions, opts *RunOptions, cfgPath string, cmd *cobra.Command) error {
	log, err := newLogger(rootOpts.Verbose)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck // stderr sync failure is unactionable

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}

	clock := delivery.SystemClock()
	sched := delivery.SystemScheduler()

	guardMode, guardWindow, err := cfg.GuardSettings()
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	guard := loopback.NewGuard(guardMode, guardWindow, clock)

	router := route.NewRouter()
	routes, err := cfg.BuildRoutes()
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	if err := router.SetRoutes(routes); err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}

	disp := dispatch.NewDispatcher(guard, router, log)

	collectorOpts := []diag.CollectorOption{
		diag.WithStatusSource(disp),
		diag.WithCollectorLogger(log),
	}
	var recorder *diag.Recorder
	if opts.Record != "" {
		recorder, err = diag.OpenRecorder(opts.Record)
		if err != nil {
			return NewExitError(ExitCommandError, err.Error())
		}
		defer recorder.Close()
		collectorOpts = append(collectorOpts, diag.WithRecorder(recorder))
	}
	collector := diag.NewCollector(clock, sched, collectorOpts...)
	if recorder != nil {
		if err := recorder.BeginSession(collector.SessionID(), clock.Now()); err != nil {
			return NewExitError(ExitCommandError, err.Error())
		}
	}

	var reg device.Registry
	guardHook := disp.OutputHook()

	for _, dc := range cfg.Destinations {
		var (
			tr     transport.Transport
			conn   transport.Connector
			tables retune.TableSender
		)
		switch dc.Transport {
		case "", "port":
			out, err := reg.FindOut(dc.PortName)
			if err != nil {
				return NewExitError(ExitCommandError, err.Error())
			}
			pt := transport.NewPortTransport(out, log)
			tr, conn = pt, pt
		case "tuning-broadcast":
			b := transport.NewBroadcast(log)
			tr, tables = b, b
		case "native-host":
			return NewExitError(ExitCommandError,
				fmt.Sprintf("destination %s: no native host bridge in this build (PLUGIN_NOT_INSTALLED)", dc.ID))
		default:
			return NewExitError(ExitCommandError,
				fmt.Sprintf("destination %s: unknown transport %q", dc.ID, dc.Transport))
		}

		settings, err := dc.Settings(cfg.ReferenceHz)
		if err != nil {
			return NewExitError(ExitCommandError, err.Error())
		}
		queue := delivery.NewQueue(clock, sched, tr.Send, delivery.WithLogger(log))

		destID := dc.ID
		hook := func(ch, key uint8, kind event.Kind, velocity uint8) {
			guardHook(ch, key, kind, velocity)
			collector.RecordOutput(destID, ch, key, kind, velocity)
		}
		engineOpts := []retune.EngineOption{
			retune.WithLogger(log),
			retune.WithOutputHook(hook),
		}
		if tables != nil {
			engineOpts = append(engineOpts, retune.WithTableSender(tables))
		}
		engine, err := retune.NewEngine(dc.ID, settings, tuning.EqualTemperament(cfg.ReferenceHz), queue, clock, sched, engineOpts...)
		if err != nil {
			return NewExitError(ExitCommandError, err.Error())
		}

		lcOpts, err := dc.LifecycleOptions()
		if err != nil {
			return NewExitError(ExitCommandError, err.Error())
		}
		lcOpts = append(lcOpts,
			lifecycle.WithLogger(log),
			lifecycle.WithSink(collector.StateSink()),
			lifecycle.WithTransport(tr))
		if conn != nil {
			lcOpts = append(lcOpts, lifecycle.WithConnector(conn))
		}
		disp.Register(lifecycle.NewDestination(dc.ID, engine, queue, clock, sched, lcOpts...))
	}

	in, err := reg.FindIn(opts.Input)
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	sourceID := in.String()

	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		var ch, key, vel uint8
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			ev := event.Note{SourceID: sourceID, Kind: event.KindNoteOn, Channel: ch + 1, Key: key, Velocity: vel}
			collector.RecordInput(ev)
			disp.HandleInput(ev)
		case msg.GetNoteEnd(&ch, &key):
			ev := event.Note{SourceID: sourceID, Kind: event.KindNoteOff, Channel: ch + 1, Key: key}
			collector.RecordInput(ev)
			disp.HandleInput(ev)
		}
	})
	if err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("listen on %s: %v", sourceID, err))
	}
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s (session %s)\n", sourceID, collector.SessionID())
	log.Info("engine running",
		zap.String("input", sourceID),
		zap.Int("destinations", len(cfg.Destinations)),
		zap.Int("routes", len(cfg.Routes)))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	disp.PanicAll()
	snap := collector.Snapshot()
	log.Info("shutting down",
		zap.Uint64("inputs", snap.Inputs),
		zap.Uint64("outputs", snap.Outputs),
		zap.Uint64("loopback_hits", snap.LoopbackHits))
	return nil
}
