package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/staywise/dwh-pipeline/internal/config"
	"github.com/staywise/dwh-pipeline/internal/etl"
	"github.com/staywise/dwh-pipeline/pkg/backup"
	"github.com/staywise/dwh-pipeline/pkg/database"
	"github.com/staywise/dwh-pipeline/pkg/logger"
	"github.com/staywise/dwh-pipeline/pkg/models"
	"github.com/staywise/dwh-pipeline/pkg/notify"
	"github.com/staywise/dwh-pipeline/pkg/pmsapi"
	"github.com/staywise/dwh-pipeline/pkg/storage"
	"github.com/staywise/dwh-pipeline/pkg/warehouse"
)

func newRunCmd() *cobra.Command {
	var datasetName string
	var fetchTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daily batch pipeline for all datasets (or one via --dataset)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), datasetName, fetchTimeout)
		},
	}
	cmd.Flags().StringVarP(&datasetName, "dataset", "d", "", "Run a single dataset by name")
	cmd.Flags().DurationVar(&fetchTimeout, "fetch-timeout", 10*time.Minute, "Per-branch extraction timeout")
	return cmd
}

func newDWHCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dwh",
		Short: "Rebuild the star schema from today's snapshots without extracting",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := buildEnv(0)
			if err != nil {
				return err
			}
			defer env.close()

			report := etl.NewRunReport(uuid.NewString(), today(), time.Now().UTC())
			if err := env.pipeline.MaterializeAll(cmd.Context(), report); err != nil {
				return err
			}
			report.FinishedAt = time.Now().UTC()
			return env.notifier.Send(cmd.Context(), "DWH rebuild", notify.RenderSummary(report))
		},
	}
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Copy today's snapshot partitions to object storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := buildEnv(0)
			if err != nil {
				return err
			}
			defer env.close()

			if !env.cfg.BackupConfigured() {
				return fmt.Errorf("object storage backup is not configured")
			}
			uploader, err := backup.NewUploader(backup.Config{
				Endpoint:  env.cfg.MinioEndpoint,
				AccessKey: env.cfg.MinioAccessKey,
				SecretKey: env.cfg.MinioSecretKey,
				UseSSL:    env.cfg.MinioUseSSL,
				Bucket:    env.cfg.MinioBucket,
			}, env.log)
			if err != nil {
				return err
			}
			n, err := uploader.BackupDay(cmd.Context(), env.store, today())
			if err != nil {
				return err
			}
			env.log.Info("backup finished", zap.Int("partitions", n))
			return nil
		},
	}
}

func runPipeline(ctx context.Context, datasetName string, fetchTimeout time.Duration) error {
	env, err := buildEnv(fetchTimeout)
	if err != nil {
		return err
	}
	defer env.close()

	report := etl.NewRunReport(uuid.NewString(), today(), time.Now().UTC())
	env.log.Info("pipeline run starting",
		zap.String("run_id", report.RunID),
		zap.Int("datasets", len(env.pipeline.Datasets)),
		zap.Ints("branches", env.pipeline.Branches))

	if datasetName != "" {
		ds := findDataset(env.pipeline.Datasets, datasetName)
		if ds == nil {
			return fmt.Errorf("unknown dataset %q", datasetName)
		}
		if err := env.pipeline.RunDataset(ctx, ds, report); err != nil {
			report.FailDataset(ds.Name, err)
		}
		if err := env.pipeline.MaterializeAll(ctx, report); err != nil {
			return err
		}
	} else if err := env.pipeline.Run(ctx, report); err != nil {
		return err
	}

	report.FinishedAt = time.Now().UTC()
	env.log.Info("pipeline run finished",
		zap.String("run_id", report.RunID),
		zap.Int("failed_branches", report.FailedBranches()),
		zap.Int("quarantined", report.QuarantinedTotal()),
		zap.Int("integrity_errors", report.IntegrityTotal()))

	return env.notifier.Send(ctx, "Pipeline run "+report.RunID, notify.RenderSummary(report))
}

// runtimeEnv bundles the wired collaborators for one command invocation.
type runtimeEnv struct {
	cfg      *config.Config
	log      *zap.Logger
	store    storage.Store
	pipeline *etl.Pipeline
	notifier notify.Notifier
	close    func()
}

func buildEnv(fetchTimeout time.Duration) (*runtimeEnv, error) {
	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	datasets, err := config.LoadDatasets(cfg.DatasetsFile)
	if err != nil {
		return nil, err
	}

	mongoClient, err := database.ConnectMongo(cfg.MongoConnString)
	if err != nil {
		return nil, err
	}
	sqlDB, err := database.ConnectSQL(cfg.SQLConnString)
	if err != nil {
		mongoClient.Disconnect(context.Background())
		return nil, err
	}

	store := storage.NewMongoStore(mongoClient, cfg.MongoDatabase)
	pipeline := &etl.Pipeline{
		Datasets: datasets,
		Branches: cfg.Branches,
		Extractor: &etl.Extractor{
			Client:       pmsapi.NewClient(cfg.PMSBaseURL, cfg.PMSToken),
			Log:          log.Named("extractor"),
			Now:          time.Now,
			FetchTimeout: fetchTimeout,
			Parallelism:  4,
		},
		Store: store,
		Materializer: &etl.Materializer{
			Writer: warehouse.NewWriter(sqlDB),
			Log:    log.Named("dwh"),
		},
		Log: log.Named("pipeline"),
		Now: time.Now,
	}

	return &runtimeEnv{
		cfg:      cfg,
		log:      log,
		store:    store,
		pipeline: pipeline,
		notifier: &notify.LogNotifier{Log: log.Named("notify")},
		close: func() {
			sqlDB.Close()
			mongoClient.Disconnect(context.Background())
			log.Sync()
		},
	}, nil
}

func findDataset(datasets []models.DatasetDescriptor, name string) *models.DatasetDescriptor {
	for i := range datasets {
		if datasets[i].Name == name {
			return &datasets[i]
		}
	}
	return nil
}

func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
