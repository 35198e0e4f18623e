package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChenBigdata421/jxt-bench/sdk/config"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/bench"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/eventbus"
	"github.com/ChenBigdata421/jxt-bench/sdk/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys 命令行参数到配置键的映射，未显式设置的参数不覆盖配置文件和环境变量
var flagKeys = map[string]string{
	"transport":                "eventBus.type",
	"publishers":               "bench.publishers",
	"subscribers":              "bench.subscribers",
	"pubsub-peers":             "bench.pubSubPeers",
	"additional-publishers":    "bench.additionalPublishers",
	"messages":                 "bench.messagesPerPeer",
	"payload-size":             "bench.payloadSize",
	"peer-id-offset":           "bench.peerIdOffset",
	"init-time":                "bench.initTime",
	"round-timeout":            "bench.roundTimeout",
	"multipeer":                "bench.multiPeer",
	"locators":                 "bench.locators",
	"key-expr":                 "bench.keyExpr",
	"subscribe-key-expr":       "bench.subscribeKeyExpr",
	"publish-rate":             "bench.publishRate",
	"resource-sample-interval": "bench.resourceSampleInterval",
	"output-dir":               "report.outputDir",
	"xlsx":                     "report.xlsx",
	"metrics-listen":           "metrics.listen",
}

func newRunCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one benchmark round and write the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := bindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			if err := config.Load(v, cfgFile, config.AppConfig); err != nil {
				return err
			}

			logger.Setup(config.LoggerConfig)
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := runBenchmark(ctx, config.AppConfig); err != nil {
				logger.Errorf("Benchmark failed: %v", err)
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfgFile, "config", "c", "", "config file (yaml/json/toml)")
	f.StringP("transport", "t", "memory", "transport: memory, nats, kafka, redpanda, mqtt, redis")
	f.IntP("publishers", "p", 1, "number of publish-only peers")
	f.IntP("subscribers", "s", 1, "number of subscribe-only peers")
	f.Int("pubsub-peers", 0, "number of peers that both publish and subscribe")
	f.Int("additional-publishers", 0, "publishers running outside this process, counted in the expected total")
	f.IntP("messages", "n", 100, "messages sent by each publisher")
	f.Int("payload-size", 8, "payload size in bytes")
	f.Int("peer-id-offset", 0, "first peer id assigned by this process")
	f.Duration("init-time", 3*time.Second, "preparation time before the common start instant")
	f.Duration("round-timeout", 10*time.Second, "round duration measured from the common start instant")
	f.Bool("multipeer", false, "open one session per worker")
	f.StringP("locators", "l", "", "comma separated endpoints used in multipeer mode")
	f.String("key-expr", config.DefaultKeyExpr, "key expression messages are published on")
	f.String("subscribe-key-expr", config.DefaultSubscribeKeyExpr, "key expression subscribers listen on")
	f.Float64("publish-rate", 0, "messages per second per publisher, 0 means unlimited")
	f.Duration("resource-sample-interval", 0, "process resource sampling interval, 0 disables sampling")
	f.StringP("output-dir", "o", ".", "directory the report is written to")
	f.Bool("xlsx", false, "also write an xlsx copy of the report")
	f.String("metrics-listen", "", "serve Prometheus metrics on this address, e.g. :9090")

	return cmd
}

// bindFlags 只绑定显式设置的参数，否则 pflag 默认值会压过配置文件
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.Visit(func(fl *pflag.Flag) {
		key, ok := flagKeys[fl.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, fl); err != nil {
			bindErr = fmt.Errorf("bind flag %s: %w", fl.Name, err)
		}
	})
	return bindErr
}

func runBenchmark(ctx context.Context, cfg *config.Config) error {
	opener, err := eventbus.NewOpener(cfg.EventBus)
	if err != nil {
		return err
	}

	var collector eventbus.MetricsCollector = &eventbus.NoOpMetricsCollector{}
	if cfg.Metrics.Listen != "" {
		prom := eventbus.NewPrometheusMetricsCollector(cfg.Metrics.Namespace)
		collector = prom

		server := newMetricsServer(cfg.Metrics.Listen, cfg.EventBus.Type, prom)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	writer := &bench.ReportWriter{
		OutputDir: cfg.Report.OutputDir,
		XLSX:      cfg.Report.XLSX,
	}
	if cfg.Report.S3.Enabled() {
		uploader, err := bench.NewS3Uploader(cfg.Report.S3)
		if err != nil {
			return err
		}
		writer.Uploader = uploader
	}

	if cfg.Report.OutputDir != "" {
		if err := os.MkdirAll(cfg.Report.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	runner, err := bench.NewRunner(cfg.Bench, opener,
		bench.WithTransport(cfg.EventBus.Type),
		bench.WithMetrics(collector),
		bench.WithReportWriter(writer))
	if err != nil {
		return err
	}

	result, path, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	rate := "undefined"
	if result.TotalReceiveRate != nil {
		rate = fmt.Sprintf("%.4f", *result.TotalReceiveRate)
	}
	fmt.Printf("report: %s\npeers returned: %d\ntotal receive rate: %s\nworker failures: %d\n",
		path, result.TotalSubReturned, rate, len(result.WorkerFailures))
	return nil
}
