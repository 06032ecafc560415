// Package job assembles the person import job from the import configuration.
package job

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tigerroll/batchimport/pkg/batch/adapter/storage"
	"github.com/tigerroll/batchimport/pkg/batch/component/step/reader"
	"github.com/tigerroll/batchimport/pkg/batch/component/step/writer"
	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	"github.com/tigerroll/batchimport/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/batchimport/pkg/batch/core/config"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchimport/pkg/batch/core/domain/repository"
	"github.com/tigerroll/batchimport/pkg/batch/core/support/incrementer"
	tx "github.com/tigerroll/batchimport/pkg/batch/core/tx"
	"github.com/tigerroll/batchimport/pkg/batch/engine/step/item"
	"github.com/tigerroll/batchimport/pkg/batch/engine/step/retry"
	"github.com/tigerroll/batchimport/pkg/batch/engine/step/skip"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/logger"

	"github.com/tigerroll/batchimport/example/person-import/internal/domain"
	"github.com/tigerroll/batchimport/example/person-import/internal/step/processor"
)

const moduleName = "person_import_job"

// InputFileParameter is the job parameter naming the CSV source.
const InputFileParameter = "input.file.name"

// Sink types selectable with import.writer.type.
const (
	SinkTypeGorm    = "gorm"
	SinkTypeParquet = "parquet"
)

// WriterSettings selects the sink. The other keys of import.writer configure it.
type WriterSettings struct {
	Type string `yaml:"type"`
}

// Params are the collaborators of the person import job.
type Params struct {
	fx.In

	Config      *config.ImportConfig
	DB          *gorm.DB
	TxManager   tx.TransactionManager
	Repository  repository.JobRepository
	Opener      storage.Opener
	StepOptions item.Options
}

// NewPersonImportJob builds the job definition: a CSV stream per execution, the person
// processor and the configured sink, committed every chunk_size records.
func NewPersonImportJob(p Params) (usecase.JobDefinition, error) {
	cfg := p.Config

	// The locator comes from InputFileParameter, the rest of the CSV settings from import.reader.
	var csvConfig reader.CSVConfig
	if err := configbinder.BindProperties(cfg.Reader, &csvConfig); err != nil {
		return usecase.JobDefinition{}, exception.NewBatchError(moduleName, "invalid import.reader settings", err, false, false)
	}

	sink, err := newSink(cfg.Writer, p.DB)
	if err != nil {
		return usecase.JobDefinition{}, err
	}

	opts := p.StepOptions
	if opts.SkipPolicy, err = skip.NewSkipPolicy(cfg.SkipLimit, cfg.SkippableErrors); err != nil {
		return usecase.JobDefinition{}, err
	}
	opts.RetryPolicy, err = retry.NewRetryPolicy(retry.Settings{
		MaxAttempts:     cfg.ChunkRetry.MaxAttempts,
		InitialInterval: cfg.ChunkRetry.InitialInterval,
		MaxInterval:     cfg.ChunkRetry.MaxInterval,
		Factor:          cfg.ChunkRetry.Factor,
		RetryableErrors: cfg.ChunkRetry.RetryableErrors,
	})
	if err != nil {
		return usecase.JobDefinition{}, err
	}
	opts.CommitTimeout = cfg.CommitTimeout

	step, err := item.NewChunkStep[domain.PersonRecord, domain.Person](
		cfg.StepName, cfg.ChunkSize, processor.NewPersonProcessor(), sink, p.Repository, p.TxManager, opts)
	if err != nil {
		return usecase.JobDefinition{}, err
	}

	streamName := cfg.StepName + "Reader"
	streams := func(ctx context.Context, params model.JobParameters) (port.RecordStream[domain.PersonRecord], error) {
		locator, ok := params.GetString(InputFileParameter)
		if !ok || locator == "" {
			return nil, exception.NewBatchErrorf(moduleName, "job parameter '%s' is required", InputFileParameter)
		}
		c := csvConfig
		c.Locator = locator
		s, err := reader.NewCSVStreamWithConfig[domain.PersonRecord](streamName, p.Opener, c, nil)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	logger.Infof("Job '%s' configured: step '%s', chunk size %d, skip limit %d.", cfg.JobName, cfg.StepName, cfg.ChunkSize, cfg.SkipLimit)
	return usecase.JobDefinition{
		Name:        cfg.JobName,
		Step:        usecase.NewChunkStepRunner(step, streams),
		Incrementer: incrementer.NewUIDIncrementer(incrementer.DefaultUIDKey),
	}, nil
}

func newSink(section map[string]interface{}, db *gorm.DB) (port.BatchSink[domain.Person], error) {
	var settings WriterSettings
	if err := configbinder.BindProperties(section, &settings); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid import.writer settings", err, false, false)
	}
	switch settings.Type {
	case "", SinkTypeGorm:
		s, err := writer.NewGormSink[domain.Person]("personWriter", db, section)
		if err != nil {
			return nil, err
		}
		return s, nil
	case SinkTypeParquet:
		s, err := writer.NewParquetSink[domain.Person]("personWriter", section)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, exception.NewBatchErrorf(moduleName, "unknown writer type '%s'", settings.Type)
	}
}

// Register makes the person import job launchable by the controller.
func Register(controller *usecase.SimpleJobController, def usecase.JobDefinition) error {
	return controller.Register(def)
}
