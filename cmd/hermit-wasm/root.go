package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flavio/hermit-wasm/internal/bootstrap"
	"github.com/flavio/hermit-wasm/internal/errx"
	"github.com/flavio/hermit-wasm/internal/settings"
	"github.com/flavio/hermit-wasm/pkg/logging"
)

// rootCmd is hermit-wasm's single operation: serve a guest module. Flags
// are also bound into viper, but runServe reads every value from the
// command's own flag set; no environment variable or config file is
// consulted.
var rootCmd = &cobra.Command{
	Use:   "hermit-wasm <module-path>",
	Short: "Host a WebAssembly guest module behind an HTTP server",
	Args:  cobra.ExactArgs(1),
	RunE:  runServe,
}

func init() {
	rootCmd.Flags().StringP("redis-host", "r", "", "Redis host, used as redis://{host}/ (required)")
	rootCmd.Flags().Int("redis-thread-pool-size", 1, "Connections in the Redis pool")
	rootCmd.Flags().Int("http-server-worker-pool-size", 2, "HTTP worker threads")
	rootCmd.Flags().BoolP("verbose", "v", false, "Trace-level logs (off => warn level)")
	rootCmd.Flags().String("audit-log", "", "Path to a JSONL audit log of dispatcher/worker events (additive, off by default)")
	rootCmd.MarkFlagRequired("redis-host")

	viper.BindPFlag("redis-host", rootCmd.Flags().Lookup("redis-host"))
	viper.BindPFlag("redis-thread-pool-size", rootCmd.Flags().Lookup("redis-thread-pool-size"))
	viper.BindPFlag("http-server-worker-pool-size", rootCmd.Flags().Lookup("http-server-worker-pool-size"))
	viper.BindPFlag("verbose", rootCmd.Flags().Lookup("verbose"))
	viper.BindPFlag("audit-log", rootCmd.Flags().Lookup("audit-log"))
}

func runServe(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		logrus.SetLevel(logrus.TraceLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	redisHost, _ := cmd.Flags().GetString("redis-host")
	redisPoolSize, _ := cmd.Flags().GetInt("redis-thread-pool-size")
	workerPoolSize, _ := cmd.Flags().GetInt("http-server-worker-pool-size")
	auditLogPath, _ := cmd.Flags().GetString("audit-log")

	s := settings.Settings{
		ModulePath:               args[0],
		RedisHost:                redisHost,
		RedisThreadPoolSize:      redisPoolSize,
		HTTPServerWorkerPoolSize: workerPoolSize,
		Verbose:                  verbose,
		AuditLogPath:             auditLogPath,
	}
	if err := s.Validate(); err != nil {
		return err
	}

	emitter, closeEmitter, err := buildEmitter(s)
	if err != nil {
		return err
	}
	defer closeEmitter()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return bootstrap.Run(ctx, s, emitter)
}

// buildEmitter wires the optional structured audit trail. With no
// --audit-log flag, the returned emitter has zero sinks and Emit is a
// no-op; the returned close func is always safe to defer.
func buildEmitter(s settings.Settings) (*logging.Emitter, func(), error) {
	noop := func() {}
	if s.AuditLogPath == "" {
		return logging.NewEmitter(logging.EmitterConfig{RunID: uuid.NewString()}), noop, nil
	}

	sink, err := logging.NewJSONLWriter(s.AuditLogPath)
	if err != nil {
		return nil, noop, errx.Wrap(ErrOpenAuditLog, err)
	}
	emitter := logging.NewEmitter(logging.EmitterConfig{RunID: uuid.NewString(), Host: ""}, sink)
	return emitter, func() { _ = emitter.Close() }, nil
}
