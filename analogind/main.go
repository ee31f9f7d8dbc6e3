package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/itohio/goanalogin/pkg/analogin"
	"github.com/itohio/goanalogin/pkg/config"
	"github.com/itohio/goanalogin/pkg/converter/serialadc"
	"github.com/itohio/goanalogin/pkg/converter/sim"
	"github.com/itohio/goanalogin/pkg/sample"
	"github.com/itohio/goanalogin/pkg/scheduler"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		simFlag    = flag.Bool("sim", false, "Use the simulated converter instead of the serial board")
		listFlag   = flag.Bool("list", false, "List serial ports and exit")
	)
	flag.Parse()

	if *listFlag {
		ports, err := serialadc.Ports()
		if err != nil {
			log.Fatalf("Failed to list ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p.Name)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
		cfg.Converter.Kind = config.ConverterSerial
	}
	if *simFlag {
		cfg.Converter.Kind = config.ConverterSim
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("analogind failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conv, closeConv, err := newConverter(cfg, logger)
	if err != nil {
		return err
	}
	defer closeConv()

	engine, sched, sources, err := setup(cfg, conv, logger)
	if err != nil {
		return err
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	logger.Info("sampling",
		zap.String("converter", cfg.Converter.Kind),
		zap.Int("channels", engine.Registry().Len()),
		zap.Int("oversample_threshold", engine.OversampleThreshold()),
		zap.Duration("tick_period", sched.Period()))

	poll := sample.NewPoller(sources, cfg.Report.Interval, 0, logger.Named("poller"))
	for s := range poll(ctx) {
		logger.Info("reading", zap.Int("channel", s.ID), zap.Uint16("raw", s.Raw))
	}

	stats := engine.Stats()
	logger.Info("stopped",
		zap.Uint32("ticks", sched.Ticks()),
		zap.Uint64("delivered", stats.Delivered),
		zap.Uint64("discarded", stats.Discarded),
		zap.Uint64("skipped", stats.Skipped),
		zap.Uint64("overruns", stats.Overruns),
		zap.Uint64("late_ticks", sched.Late()))
	return nil
}

// setup builds the engine and its scheduler and registers the supply
// channel followed by every configured channel.
func setup(cfg *config.Config, conv analogin.Converter, logger *zap.Logger) (*analogin.Engine, *scheduler.Scheduler, []analogin.Source, error) {
	engine := analogin.New(conv,
		analogin.WithCapacity(cfg.Engine.Capacity),
		analogin.WithOversampleThreshold(cfg.Engine.OversampleThreshold),
		analogin.WithFaultPolicy(faultPolicy(cfg.Engine.FaultPolicy)),
		analogin.WithHaltReportInterval(cfg.Engine.HaltReportInterval),
		analogin.WithLogger(logger.Named("analogin")),
	)

	sched := scheduler.New(cfg.Engine.TickPeriod, logger.Named("scheduler"))
	if err := engine.Init(sched); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	vcc, err := engine.Channel(analogin.BoardVCC)
	if err != nil {
		return nil, nil, nil, err
	}
	sources := []analogin.Source{vcc}
	for _, id := range cfg.Channels {
		ch, err := engine.Channel(id)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to register channel %d: %w", id, err)
		}
		sources = append(sources, ch)
	}
	return engine, sched, sources, nil
}

func newConverter(cfg *config.Config, logger *zap.Logger) (analogin.Converter, func(), error) {
	switch cfg.Converter.Kind {
	case config.ConverterSerial:
		conv, err := serialadc.Open(cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Converter.ResolutionBits, logger.Named("serialadc"))
		if err != nil {
			return nil, nil, err
		}
		return conv, func() {
			if err := conv.Close(); err != nil {
				logger.Warn("failed to close converter", zap.Error(err))
			}
		}, nil
	default:
		return sim.New(&cfg.Sim, cfg.Converter.ResolutionBits), func() {}, nil
	}
}

func faultPolicy(name string) analogin.FaultPolicy {
	if name == config.FaultHalt {
		return analogin.FaultHalt
	}
	return analogin.FaultReturn
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
