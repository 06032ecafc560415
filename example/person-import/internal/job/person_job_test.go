package job_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/batchimport/pkg/batch/adapter/storage"
	"github.com/tigerroll/batchimport/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/batchimport/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/batchimport/pkg/batch/core/config"
	model "github.com/tigerroll/batchimport/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchimport/pkg/batch/engine/step/item"
	"github.com/tigerroll/batchimport/pkg/batch/infrastructure/migration"
	sqlrepo "github.com/tigerroll/batchimport/pkg/batch/infrastructure/repository/sql"

	"github.com/tigerroll/batchimport/example/person-import/internal/domain"
	"github.com/tigerroll/batchimport/example/person-import/internal/job"
)

type harness struct {
	dir        string
	db         *gorm.DB
	repo       *sqlrepo.SQLJobRepository
	controller *usecase.SimpleJobController
}

func newHarness(t *testing.T, configure func(*config.ImportConfig)) *harness {
	t.Helper()
	dir := t.TempDir()
	dbCfg := dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(dir, "person.db"),
		LogLevel: "silent",
		Pool:     dbconfig.PoolConfig{MaxOpenConns: 1},
	}
	ctx := context.Background()
	require.NoError(t, migration.MigrateFramework(ctx, dbCfg))
	m, err := migration.NewMigrator(dbCfg)
	require.NoError(t, err)
	require.NoError(t, m.Up(ctx, os.DirFS("../../cmd/person-import/resources/migrations"), "sqlite", migration.AppMigrationsTable))

	db, err := gormadapter.Open(dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gormadapter.Close(db) })
	repo := sqlrepo.NewSQLJobRepository(db)

	cfg := config.NewConfig().Import
	cfg.JobName = "personImportJob"
	cfg.StepName = "personImportStep"
	cfg.ChunkSize = 10
	cfg.Reader = map[string]interface{}{"fields": []interface{}{"name", "age", "nation", "address"}, "trim_space": true}
	if configure != nil {
		configure(&cfg)
	}

	def, err := job.NewPersonImportJob(job.Params{
		Config:      &cfg,
		DB:          db,
		TxManager:   gormadapter.NewGormTransactionManager(db),
		Repository:  repo,
		Opener:      storage.NewResolver(local.NewAdapter(dir)),
		StepOptions: item.Options{},
	})
	require.NoError(t, err)

	controller, err := usecase.NewSimpleJobController(repo, usecase.ControllerOptions{})
	require.NoError(t, err)
	require.NoError(t, job.Register(controller, def))
	t.Cleanup(func() { _ = controller.Close(context.Background()) })
	return &harness{dir: dir, db: db, repo: repo, controller: controller}
}

// writeCSV writes n persons; rows listed in broken get a five character name.
func (h *harness) writeCSV(t *testing.T, name string, n int, broken ...int) {
	t.Helper()
	bad := make(map[int]bool, len(broken))
	for _, b := range broken {
		bad[b] = true
	}
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		person, nation := fmt.Sprintf("张%d", i), "汉族"
		if i%2 == 0 {
			nation = "回族"
		}
		if bad[i] {
			person = "欧阳小明明"
		}
		fmt.Fprintf(&sb, "%s,%d,%s,地址%d\n", person, 20+i%50, nation, i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, name), []byte(sb.String()), 0o644))
}

func (h *harness) persons(t *testing.T) []domain.Person {
	t.Helper()
	var out []domain.Person
	require.NoError(t, h.db.Order("id").Find(&out).Error)
	return out
}

func params(file string) model.JobParameters {
	return model.NewJobParametersBuilder().AddString(job.InputFileParameter, file).ToJobParameters()
}

func TestPersonImportCommitsEveryChunk(t *testing.T) {
	h := newHarness(t, nil)
	h.writeCSV(t, "people.csv", 25)

	je, err := h.controller.Run(context.Background(), "personImportJob", params("people.csv"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusCompleted, je.Status)

	se := je.StepExecutions[0]
	assert.Equal(t, 25, se.ReadCount)
	assert.Equal(t, 25, se.WriteCount)
	assert.Equal(t, 3, se.CommitCount)
	assert.Equal(t, int64(25), se.LastCommittedPosition)

	persons := h.persons(t)
	require.Len(t, persons, 25)
	assert.Equal(t, "张1", persons[0].Name)
	assert.Equal(t, "01", persons[0].Nation)
	assert.Equal(t, "02", persons[1].Nation)
	assert.Equal(t, "地址25", persons[24].Address)
}

func TestPersonImportRestartsAfterInvalidRecord(t *testing.T) {
	h := newHarness(t, nil)
	h.writeCSV(t, "people.csv", 25, 15)
	ctx := context.Background()

	first, err := h.controller.Run(ctx, "personImportJob", params("people.csv"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusFailed, first.Status)
	assert.Contains(t, first.ExitDescription, "name")
	assert.Len(t, h.persons(t), 10, "only the chunk before the invalid record is committed")

	h.writeCSV(t, "people.csv", 25)
	second, err := h.controller.Run(ctx, "personImportJob", params("people.csv"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusCompleted, second.Status)
	assert.Equal(t, first.JobInstanceID, second.JobInstanceID)

	persons := h.persons(t)
	require.Len(t, persons, 25, "the restart resumes after the committed chunk")
	assert.Equal(t, "张11", persons[10].Name)

	_, err = h.controller.Run(ctx, "personImportJob", params("people.csv"))
	assert.True(t, usecase.IsLaunchRejection(err))
}

func TestPersonImportSkipsWithinLimit(t *testing.T) {
	h := newHarness(t, func(cfg *config.ImportConfig) {
		cfg.SkipLimit = 2
		cfg.SkippableErrors = []string{"ValidationError"}
	})
	h.writeCSV(t, "people.csv", 12, 3, 7)

	je, err := h.controller.Run(context.Background(), "personImportJob", params("people.csv"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, 2, je.StepExecutions[0].SkipCount)
	assert.Len(t, h.persons(t), 10)
}

func TestPersonImportRequiresInputFile(t *testing.T) {
	h := newHarness(t, nil)

	je, err := h.controller.Run(context.Background(), "personImportJob", model.NewJobParameters())
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Contains(t, je.ExitDescription, job.InputFileParameter)
	require.Len(t, je.StepExecutions, 1)
	assert.Equal(t, model.BatchStatusFailed, je.StepExecutions[0].Status)
}

func TestPersonImportWritesParquet(t *testing.T) {
	out := filepath.Join(t.TempDir(), "parquet")
	h := newHarness(t, func(cfg *config.ImportConfig) {
		cfg.Writer = map[string]interface{}{"type": job.SinkTypeParquet, "directory": out, "prefix": "person"}
	})
	h.writeCSV(t, "people.csv", 15)

	je, err := h.controller.Run(context.Background(), "personImportJob", params("people.csv"))
	require.NoError(t, err)
	require.Equal(t, model.BatchStatusCompleted, je.Status)

	files, err := filepath.Glob(filepath.Join(out, "person-*.parquet"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Empty(t, h.persons(t))
}

func TestNewPersonImportJobRejectsUnknownWriter(t *testing.T) {
	cfg := config.NewConfig().Import
	cfg.Writer = map[string]interface{}{"type": "kafka"}
	_, err := job.NewPersonImportJob(job.Params{Config: &cfg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka")
}
