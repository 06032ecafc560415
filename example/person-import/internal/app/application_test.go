package app_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/batchimport/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/batchimport/pkg/batch/adapter/database/gorm"
	config "github.com/tigerroll/batchimport/pkg/batch/core/config"

	"github.com/tigerroll/batchimport/example/person-import/internal/app"
	"github.com/tigerroll/batchimport/example/person-import/internal/domain"
	"github.com/tigerroll/batchimport/example/person-import/internal/job"
)

const validPeople = "汪云飞,11,汉族,合肥\n张三,12,回族,北京\n李四,13,汉族,上海\n"

type fixture struct {
	dir string
	cfg config.EmbeddedConfig
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`
import:
  job_name: personImportJob
  step_name: personImportStep
  chunk_size: 2
  reader:
    fields: [name, age, nation, address]
database:
  type: sqlite
  database: %q
  log_level: silent
  auto_migrate: true
storage:
  base_dir: %q
logging:
  level: ERROR
`, filepath.Join(dir, "person.db"), dir)
	return &fixture{dir: dir, cfg: config.EmbeddedConfig(yaml)}
}

func (f *fixture) writeCSV(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, app.DefaultInputFile), []byte(content), 0o644))
}

func (f *fixture) run(args ...string) int {
	migrations := os.DirFS("../../cmd/person-import/resources/migrations")
	return app.RunApplication(context.Background(), filepath.Join(f.dir, ".env"), f.cfg, migrations, args)
}

func (f *fixture) persons(t *testing.T) []domain.Person {
	t.Helper()
	db, err := gormadapter.Open(dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(f.dir, "person.db"), LogLevel: "silent"})
	require.NoError(t, err)
	defer gormadapter.Close(db)
	var out []domain.Person
	require.NoError(t, db.Order("id").Find(&out).Error)
	return out
}

func TestRunApplicationImportsPeople(t *testing.T) {
	f := newFixture(t)
	f.writeCSV(t, validPeople)

	require.Equal(t, 0, f.run())
	persons := f.persons(t)
	require.Len(t, persons, 3)
	assert.Equal(t, domain.Person{ID: persons[0].ID, Name: "汪云飞", Age: 11, Nation: "01", Address: "合肥"}, persons[0])
	assert.Equal(t, "02", persons[1].Nation)

	require.Equal(t, 0, f.run(), "every run without --restart is a new instance")
	assert.Len(t, f.persons(t), 6)
}

func TestRunApplicationFailsOnInvalidRecord(t *testing.T) {
	f := newFixture(t)
	f.writeCSV(t, "张三,12,汉族,北京\n李,13,汉族,上海\n")

	assert.Equal(t, 1, f.run())
	assert.Empty(t, f.persons(t))
}

func TestRunApplicationRestartResumesFailedInstance(t *testing.T) {
	f := newFixture(t)
	f.writeCSV(t, "张三,12,汉族,北京\n李四,13,汉族,上海\n王,14,汉族,广州\n")

	require.Equal(t, 1, f.run("uid=first", app.RestartFlag))
	require.Len(t, f.persons(t), 2)

	f.writeCSV(t, "张三,12,汉族,北京\n李四,13,汉族,上海\n王五,14,汉族,广州\n")
	require.Equal(t, 0, f.run("uid=first", app.RestartFlag))
	persons := f.persons(t)
	require.Len(t, persons, 3)
	assert.Equal(t, "王五", persons[2].Name)

	assert.Equal(t, 1, f.run("uid=first", app.RestartFlag), "a completed instance cannot run again")
}

func TestParseLaunchArgs(t *testing.T) {
	params, restart, err := app.ParseLaunchArgs([]string{"batch(long)=7", app.RestartFlag})
	require.NoError(t, err)
	assert.True(t, restart)
	file, ok := params.GetString(job.InputFileParameter)
	require.True(t, ok)
	assert.Equal(t, app.DefaultInputFile, file)
	batch, ok := params.GetLong("batch")
	require.True(t, ok)
	assert.Equal(t, int64(7), batch)

	params, restart, err = app.ParseLaunchArgs([]string{"input.file.name=gs://bucket/people.csv"})
	require.NoError(t, err)
	assert.False(t, restart)
	file, _ = params.GetString(job.InputFileParameter)
	assert.Equal(t, "gs://bucket/people.csv", file)

	_, _, err = app.ParseLaunchArgs([]string{"no-equals-sign"})
	assert.Error(t, err)
}
