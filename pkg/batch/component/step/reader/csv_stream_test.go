package reader_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchimport/pkg/batch/adapter/storage"
	"github.com/tigerroll/batchimport/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/batchimport/pkg/batch/component/step/reader"
	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
)

type personRow struct {
	Name    string `yaml:"name"`
	Age     string `yaml:"age"`
	Nation  string `yaml:"nation"`
	Address string `yaml:"address"`
}

type countingOpener struct {
	data  string
	opens int
}

func (o *countingOpener) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	o.opens++
	return io.NopCloser(strings.NewReader(o.data)), nil
}

const people = "张三,21,汉族,北京\n李四,22,回族,上海\n王五,23,汉族,广州\n赵六,24,满族,深圳\n"

func readAll(t *testing.T, s port.RecordStream[personRow]) ([]personRow, []int64) {
	t.Helper()
	var (
		rows      []personRow
		positions []int64
	)
	for {
		r, err := s.Next(context.Background())
		if err == port.ErrEndOfStream {
			return rows, positions
		}
		require.NoError(t, err)
		rows = append(rows, r)
		positions = append(positions, s.CurrentPosition())
	}
}

func TestCSVStreamReadsConfiguredFields(t *testing.T) {
	opener := &countingOpener{data: people}
	s, err := reader.NewCSVStream[personRow]("people", opener, map[string]interface{}{
		"locator": "people.csv",
		"fields":  "name,age,nation,address",
	}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))
	defer s.Close(context.Background())

	assert.Zero(t, s.CurrentPosition())
	rows, positions := readAll(t, s)
	require.Len(t, rows, 4)
	assert.Equal(t, personRow{Name: "张三", Age: "21", Nation: "汉族", Address: "北京"}, rows[0])
	assert.Equal(t, []int64{1, 2, 3, 4}, positions)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, port.ErrEndOfStream)
}

func TestCSVStreamSeekResumesAfterPosition(t *testing.T) {
	opener := &countingOpener{data: people}
	s, err := reader.NewCSVStreamWithConfig[personRow]("people", opener, reader.CSVConfig{
		Locator: "people.csv",
		Fields:  []string{"name", "age", "nation", "address"},
	}, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	require.NoError(t, s.Seek(ctx, 2))
	assert.Equal(t, int64(2), s.CurrentPosition())
	rows, positions := readAll(t, s)
	require.Len(t, rows, 2)
	assert.Equal(t, "王五", rows[0].Name)
	assert.Equal(t, []int64{3, 4}, positions)

	require.NoError(t, s.Seek(ctx, 0))
	rows, _ = readAll(t, s)
	assert.Len(t, rows, 4)
	assert.Equal(t, 3, opener.opens)

	assert.Error(t, s.Seek(ctx, 5))
	require.NoError(t, s.Close(ctx))
}

func TestCSVStreamHeaderAndDelimiter(t *testing.T) {
	data := "\xEF\xBB\xBFname;age;nation;address\n 张三 ; 21 ;汉族;北京\n"
	s, err := reader.NewCSVStream[personRow]("people", &countingOpener{data: data}, map[string]interface{}{
		"locator":    "people.csv",
		"has_header": "true",
		"delimiter":  ";",
		"trim_space": true,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))

	rows, positions := readAll(t, s)
	require.Len(t, rows, 1)
	assert.Equal(t, personRow{Name: "张三", Age: "21", Nation: "汉族", Address: "北京"}, rows[0])
	assert.Equal(t, []int64{1}, positions, "the header is not a position")
}

func TestCSVStreamRejectsWrongColumnCount(t *testing.T) {
	s, err := reader.NewCSVStreamWithConfig[personRow]("people", &countingOpener{data: "张三,21\n"}, reader.CSVConfig{
		Locator: "people.csv",
		Fields:  []string{"name", "age", "nation", "address"},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))

	_, err = s.Next(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, port.ErrEndOfStream)
}

func TestCSVStreamConfigValidation(t *testing.T) {
	opener := &countingOpener{}
	_, err := reader.NewCSVStreamWithConfig[personRow]("people", opener, reader.CSVConfig{Fields: []string{"name"}}, nil)
	assert.Error(t, err, "locator required")

	_, err = reader.NewCSVStreamWithConfig[personRow]("people", opener, reader.CSVConfig{Locator: "x.csv"}, nil)
	assert.Error(t, err, "fields required without header")

	_, err = reader.NewCSVStreamWithConfig[personRow]("people", opener, reader.CSVConfig{Locator: "x.csv", Fields: []string{"name"}, Delimiter: ";;"}, nil)
	assert.Error(t, err)
}

func TestCSVStreamOverLocalStorage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "people.csv"), []byte(people), 0o644))

	resolver := storage.NewResolver(local.NewAdapter(dir))
	s, err := reader.NewCSVStreamWithConfig[map[string]string]("people", resolver, reader.CSVConfig{
		Locator: "people.csv",
		Fields:  []string{"name", "age", "nation", "address"},
	}, func(row map[string]string) (map[string]string, error) { return row, nil })
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	defer s.Close(ctx)

	row, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "北京", row["address"])
}
