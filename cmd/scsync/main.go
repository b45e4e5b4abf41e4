package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/jeongseonghan/scsync/internal/config"
	"github.com/jeongseonghan/scsync/internal/iqsource"
	"github.com/jeongseonghan/scsync/internal/metrics"
	"github.com/jeongseonghan/scsync/internal/pipeline"
	"github.com/jeongseonghan/scsync/internal/publish"
	"github.com/jeongseonghan/scsync/internal/schmidlcox"
	"github.com/jeongseonghan/scsync/internal/server"
)

type options struct {
	configPath  string
	source      string
	input       string
	threshold   float64
	fftLen      int
	cpLen       int
	even        bool
	output      string
	listen      string
	logLevel    string
	listDevices bool
}

func newFlagSet(o *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("scsync", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	fs.StringVarP(&o.source, "source", "s", "", "sample source: file, audio or sim")
	fs.StringVarP(&o.input, "input", "i", "", "complex float32 I/Q input file")
	fs.Float64VarP(&o.threshold, "threshold", "t", schmidlcox.DefaultThreshold, "plateau detection threshold in (0, 1]")
	fs.IntVar(&o.fftLen, "fft-len", 64, "OFDM FFT length")
	fs.IntVar(&o.cpLen, "cp-len", 16, "cyclic prefix length")
	fs.BoolVar(&o.even, "even-carriers", false, "preamble uses even carriers only")
	fs.StringVarP(&o.output, "output", "o", "", "write freq/pulse outputs to this file")
	fs.StringVarP(&o.listen, "listen", "l", "", "HTTP API address, e.g. :8080")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&o.listDevices, "list-devices", false, "list audio input devices and exit")
	return fs
}

// loadConfig reads the config file, if any, and overlays the flags the user
// set explicitly.
func loadConfig(o *options, fs *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}

	if fs.Changed("source") {
		cfg.Source.Kind = o.source
	}
	if fs.Changed("input") {
		cfg.Source.Path = o.input
		if !fs.Changed("source") {
			cfg.Source.Kind = config.SourceFile
		}
	}
	if fs.Changed("threshold") {
		cfg.Sync.Threshold = o.threshold
	}
	if fs.Changed("fft-len") {
		cfg.Sync.FFTLen = o.fftLen
	}
	if fs.Changed("cp-len") {
		cfg.Sync.CPLen = o.cpLen
	}
	if fs.Changed("even-carriers") {
		cfg.Sync.UseEvenCarriers = o.even
	}
	if fs.Changed("output") {
		cfg.Output.Path = o.output
	}
	if fs.Changed("listen") {
		cfg.Server.Listen = o.listen
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) (*log.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "scsync",
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Level:           lvl,
	}), nil
}

func openSource(cfg *config.Config, logger *log.Logger) (iqsource.Source, error) {
	switch cfg.Source.Kind {
	case config.SourceFile:
		return iqsource.OpenFile(cfg.Source.Path)
	case config.SourceAudio:
		return iqsource.OpenAudio(iqsource.AudioConfig{
			SampleRate:   cfg.Source.SampleRate,
			FramesPerBuf: cfg.Source.ChunkSize,
			DCBlock:      cfg.Source.Audio.DCBlock,
			AGCTarget:    cfg.Source.Audio.AGCTarget,
		}, logger.WithPrefix("audio"))
	case config.SourceSim:
		return iqsource.NewSimSource(iqsource.SimConfig{
			Burst:      cfg.SimConfig(),
			Interval:   cfg.Source.Sim.Interval,
			SNR:        cfg.Source.Sim.SNR,
			CFO:        cfg.Source.Sim.CFO,
			Limit:      cfg.Source.Sim.Samples,
			SampleRate: cfg.Source.SampleRate,
		})
	}
	return nil, fmt.Errorf("%w %q", config.ErrUnknownSource, cfg.Source.Kind)
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	detector, err := schmidlcox.New(cfg.Sync.Schmidlcox())
	if err != nil {
		return err
	}

	src, err := openSource(cfg, logger)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	m := metrics.New()
	opts := pipeline.Options{
		ChunkSize: cfg.Source.ChunkSize,
		Logger:    logger,
		Metrics:   m,
	}
	if cfg.Output.Path != "" {
		sink, err := iqsource.CreateFileSink(cfg.Output.Path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer sink.Close()
		opts.Sink = sink
	}

	runner := pipeline.NewRunner(detector, src, opts)

	if cfg.MQTT.Broker != "" {
		pub, err := publish.Connect(publish.Config{
			Broker:         cfg.MQTT.Broker,
			Topic:          cfg.MQTT.Topic,
			ClientIDPrefix: cfg.MQTT.ClientIDPrefix,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
		}, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		runner.Subscribe(pub)
	}

	// A failing HTTP server ends the run.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	srvErr := make(chan error, 1)
	srvCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if cfg.Server.Listen != "" {
		handlers := server.NewHandlers(runner, server.SyncInfo{
			FFTLen:          detector.FFTLen(),
			CPLen:           detector.CPLen(),
			UseEvenCarriers: detector.UseEvenCarriers(),
			Delay:           detector.Delay(),
			Source:          cfg.Source.Kind,
		}, logger.WithPrefix("http"))
		runner.Subscribe(handlers)
		srv := server.NewServer(cfg.Server.Listen, handlers, m.Handler(), logger.WithPrefix("http"))
		go func() {
			err := srv.Run(srvCtx)
			if err != nil {
				cancelRun()
			}
			srvErr <- err
		}()
	} else {
		srvErr <- nil
	}

	stats, runErr := runner.Run(runCtx)
	logger.Info("done", "samples", stats.Samples, "detections", stats.Detections)

	stopServer()
	return errors.Join(runErr, <-srvErr)
}

func main() {
	var o options
	fs := newFlagSet(&o)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if o.listDevices {
		devices, err := iqsource.ListDevices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list devices: %v\n", err)
			os.Exit(1)
		}
		iqsource.PrintDevices(os.Stdout, devices)
		return
	}

	cfg, err := loadConfig(&o, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log level: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("run failed", "err", err)
		stop()
		os.Exit(1)
	}
}
