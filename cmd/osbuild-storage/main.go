package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/coreos/go-systemd/v22/journal"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/osbuild/osbuild-storage/internal/answers"
	"github.com/osbuild/osbuild-storage/internal/common"
	"github.com/osbuild/osbuild-storage/internal/disk"
	"github.com/osbuild/osbuild-storage/internal/probe"
	"github.com/osbuild/osbuild-storage/internal/storage"
)

type options struct {
	configPath string
	json       bool
	verbose    bool
}

func setupLogging(opts *options) {
	if opts.json {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	if opts.verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.AddHook(&common.BuildHook{})
	if journal.Enabled() {
		logrus.AddHook(&common.JournalHook{})
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "osbuild-storage",
		Short:         "Probe block devices and configure the storage of the target system",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts)
			logrus.WithFields(logrus.Fields{
				"build_time": common.BuildTime,
				"go_version": common.BuildGoVersion,
			}).Debugf("osbuild-storage %s", cmd.Name())
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "configuration file")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "log in JSON format")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	var wait bool
	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe block devices and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := parseConfig(opts.configPath)
			if err != nil {
				return err
			}
			return runProbe(cmd.Context(), cfg, wait, cmd)
		},
	}
	probeCmd.Flags().BoolVar(&wait, "wait", false, "keep running after probing, SIGHUP probes again")

	var answersPath, outputPath string
	configureCmd := &cobra.Command{
		Use:   "configure",
		Short: "Apply an answers file and write the storage configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := parseConfig(opts.configPath)
			if err != nil {
				return err
			}
			return runConfigure(cmd.Context(), cfg, answersPath, outputPath, cmd)
		},
	}
	configureCmd.Flags().StringVarP(&answersPath, "answers", "a", "", "answers file")
	configureCmd.Flags().StringVarP(&outputPath, "output", "o", "-", "where to write the storage configuration")
	_ = configureCmd.MarkFlagRequired("answers")

	root.AddCommand(probeCmd, configureCmd)
	return root
}

// probeRound waits for a probing round and fails unless storage data was
// loaded.
func probeRound(ctx context.Context, m *machine) error {
	st, err := m.nextStatus(ctx)
	if err != nil {
		return err
	}
	if st.State == probe.StatusFailed {
		if st.Err == nil {
			return errors.New("probing failed")
		}
		return errors.Wrap(st.Err, "probing failed")
	}
	if st.Restricted {
		m.log.Warn("only restricted storage data is available")
	}
	return nil
}

func runProbe(ctx context.Context, cfg *storageConfig, wait bool, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logrus.StandardLogger()
	m, err := newMachine(cfg, log, true)
	if err != nil {
		return err
	}
	defer m.close()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Metrics != nil && cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Metrics.Listen, log)
		})
	}
	g.Go(func() error {
		defer stop()
		if err := m.start(ctx); err != nil {
			return err
		}
		if err := probeRound(ctx, m); err != nil {
			return err
		}
		if err := m.call(func(model *disk.Model) error {
			return writeSummary(cmd.OutOrStdout(), model)
		}); err != nil {
			return err
		}
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			log.WithError(err).Warn("cannot notify systemd")
		}
		if !wait {
			return nil
		}
		return reprobeOnHangup(ctx, m, cmd)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func reprobeOnHangup(ctx context.Context, m *machine, cmd *cobra.Command) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
		}
		m.log.Info("probing again")
		if !m.orch.Reprobe() {
			return nil
		}
		if err := probeRound(ctx, m); err != nil {
			m.log.WithError(err).Error("reprobe failed")
			continue
		}
		if err := m.call(func(model *disk.Model) error {
			return writeSummary(cmd.OutOrStdout(), model)
		}); err != nil {
			return err
		}
	}
}

func serveMetrics(ctx context.Context, addr string, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("error shutting down metrics server")
		}
	}()

	log.Infof("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "metrics server failed")
	}
	return nil
}

type storageDocument struct {
	Storage struct {
		Version int           `yaml:"version"`
		Config  []disk.Action `yaml:"config"`
	} `yaml:"storage"`
}

func runConfigure(ctx context.Context, cfg *storageConfig, answersPath, outputPath string, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := answers.Load(answersPath)
	if err != nil {
		return err
	}

	log := logrus.StandardLogger()
	m, err := newMachine(cfg, log, false)
	if err != nil {
		return err
	}
	defer m.close()

	if err := m.start(ctx); err != nil {
		return err
	}
	if err := probeRound(ctx, m); err != nil {
		return err
	}

	var doc storageDocument
	doc.Storage.Version = 1
	err = m.call(func(model *disk.Model) error {
		ctrl := storage.NewController(storage.Config{Model: model, Logger: log})
		var err error
		doc.Storage.Config, err = answers.NewRunner(ctrl, log).Run(a)
		return err
	})
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	if outputPath == "-" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	return errors.Wrap(os.WriteFile(outputPath, data, 0600), "cannot write storage configuration")
}

var run = func() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

// Main runs the command and turns a crash into a fatal log entry with the
// stack trace.
func Main() {
	defer func() {
		if r := recover(); r != nil {
			logrus.Fatalf("osbuild-storage crashed: %v\n%s", r, debug.Stack())
		}
	}()
	run()
}

func main() {
	Main()
}
