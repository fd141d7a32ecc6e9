package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lvdashuaibi/surveyvote/config"
	"github.com/lvdashuaibi/surveyvote/internal/api/graph"
	"github.com/lvdashuaibi/surveyvote/internal/baseline"
	intkafka "github.com/lvdashuaibi/surveyvote/internal/kafka"
	"github.com/lvdashuaibi/surveyvote/internal/logging"
	"github.com/lvdashuaibi/surveyvote/internal/service"
	"github.com/lvdashuaibi/surveyvote/internal/summary"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath   string
	locale       string
	baselineFile string
)

func main() {
	var rootCmd = cobra.Command{
		Use:           "surveyvote",
		Short:         "Survey vote resolution service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "配置文件路径")

	var serveCmd = cobra.Command{
		Use:   "serve",
		Short: "启动GraphQL服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(serve)
		},
	}

	var resolveCmd = cobra.Command{
		Use:   "resolve",
		Short: "裁决一个locale的全部路径并输出结果",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(resolveLocale)
		},
	}
	resolveCmd.Flags().StringVar(&locale, "locale", "", "要裁决的locale")
	resolveCmd.MarkFlagRequired("locale")

	var importCmd = cobra.Command{
		Use:   "import-baseline",
		Short: "将基线种子文件导入基线存储",
		RunE: func(cmd *cobra.Command, args []string) error {
			return importBaselineCmd()
		},
	}
	importCmd.Flags().StringVar(&baselineFile, "file", "", "基线种子文件")
	importCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(&serveCmd, &resolveCmd, &importCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("初始化失败", zap.Error(err))
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	var publisher service.Publisher
	if cfg.Kafka.Enabled {
		producer, err := intkafka.NewProducer(ctx, cfg.Kafka, a.instanceID, a.metrics, logger.Named("producer"))
		if err != nil {
			return errors.Wrap(err, "初始化Kafka生产者失败")
		}
		defer producer.Close()
		publisher = producer

		consumer, err := intkafka.NewConsumer(ctx, cfg.Kafka, a.instanceID, a.factory, a.metrics, logger.Named("consumer"))
		if err != nil {
			return errors.Wrap(err, "初始化Kafka消费者失败")
		}
		consumer.StartConsuming()
		defer consumer.Stop()
	}

	if cfg.Summary.Enabled {
		// 所有实例都运行生产者，由锁决定谁刷新
		producer := summary.NewService(cfg.Summary, a.sources, a.batch, a.summaries, a.locks, a.metrics, logger.Named("summary"))
		producer.Start()
		defer producer.Stop()
	}

	voteService := service.NewVoteService(a.factory, a.sources, a.voters, publisher, a.summaries, logger.Named("service"))
	server := graph.NewGraphQLServer(cfg.GraphQL, voteService, a.registry, logger.Named("graphql"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Port)
	}()
	logger.Info("Survey Vote 已启动", zap.String("instance", a.instanceID), zap.Int("port", cfg.Server.Port))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("正在关闭服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// resolvedFile resolve命令的输出，可作为基线种子文件再次导入
type resolvedFile struct {
	Locales map[string][]resolvedEntry `yaml:"locales"`
}

type resolvedEntry struct {
	Path     string  `yaml:"path"`
	Value    *string `yaml:"value"`
	FullPath string  `yaml:"full_path"`
	Status   string  `yaml:"status"`
}

func resolveLocale(ctx context.Context, a *app) error {
	src, err := a.sources.ForLocale(ctx, locale)
	if err != nil {
		return err
	}

	step := len(src.Paths())/10 + 1
	report, err := a.batch.ResolveLocale(ctx, src, func(done, total int) {
		if done%step == 0 || done == total {
			a.logger.Info("裁决进度", zap.Int("done", done), zap.Int("total", total))
		}
	})
	if err != nil {
		return err
	}
	if err := a.summaries.SaveSummary(ctx, report.Summary); err != nil {
		a.logger.Warn("保存汇总失败", zap.Error(err))
	}

	out := resolvedFile{Locales: map[string][]resolvedEntry{locale: {}}}
	for _, e := range report.Entries {
		if e.Err != nil {
			continue
		}
		out.Locales[locale] = append(out.Locales[locale], resolvedEntry{
			Path:     e.Path,
			Value:    e.Value.Value,
			FullPath: e.Value.FullPath,
			Status:   e.Value.Status.String(),
		})
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return errors.Wrap(err, "输出裁决结果失败")
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if report.Summary.Failed > 0 {
		return errors.Errorf("%d 个路径裁决失败", report.Summary.Failed)
	}
	return nil
}

func importBaselineCmd() error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Baseline.Dir == "" {
		return errors.New("未配置基线目录 baseline.dir")
	}
	nuts, err := baseline.NewNutsStore(cfg.Baseline.Dir, logger.Named("baseline"))
	if err != nil {
		return err
	}
	defer nuts.Close()
	return importBaseline(context.Background(), nuts, baselineFile, logger)
}
