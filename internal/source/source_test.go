package source

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/casefeed/internal/record"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func names(files []File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}

	return out
}

func TestList_SortsCSVFilesOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "03-02-2020.csv", "a\n")
	writeFile(t, dir, "01-22-2020.csv", "a\n")
	writeFile(t, dir, "02-01-2020.csv", "a\n")
	writeFile(t, dir, "README.md", "docs")
	writeFile(t, dir, ".gitignore", "")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.csv"), 0o755))

	files, err := List(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"01-22-2020.csv", "02-01-2020.csv", "03-02-2020.csv"}, names(files))
	assert.Equal(t, filepath.Join(dir, "01-22-2020.csv"), files[0].Path)
}

func TestList_MissingDir(t *testing.T) {
	_, err := List(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading data directory")
}

func TestFrom_ExactMatch(t *testing.T) {
	files := []File{
		{Name: "01-22-2020.csv"},
		{Name: "12-31-2020.csv"},
		{Name: "01-01-2021.csv"},
	}

	// Lexicographic order puts 01-01-2021 before 12-31-2020; the checkpoint
	// is located by name, not by date.
	sorted := []File{files[2], files[0], files[1]}

	got, err := From(sorted, "12-31-2020.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"12-31-2020.csv"}, names(got))

	got, err = From(sorted, "")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestFrom_NotFound(t *testing.T) {
	files := []File{{Name: "01-22-2020.csv"}}

	// A date-equivalent spelling is not a match.
	_, err := From(files, "1-22-2020.csv")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCheckpointNotFound))
}

func TestPrevious(t *testing.T) {
	files := []File{{Name: "a.csv"}, {Name: "b.csv"}, {Name: "c.csv"}}

	prev, ok := Previous(files, "c.csv")
	require.True(t, ok)
	assert.Equal(t, "b.csv", prev)

	_, ok = Previous(files, "a.csv")
	assert.False(t, ok)

	_, ok = Previous(files, "z.csv")
	assert.False(t, ok)
}

func TestEach_NormalizesHeaderAndFilters(t *testing.T) {
	content := "\ufeffProvince/State,Country/Region,Last Update,Confirmed\n" +
		"Hubei,Mainland China,1/22/2020 17:00,444\n" +
		"Washington,US,1/22/2020 17:00,1\n" +
		"Illinois,US,1/22/2020 17:00,\n"

	var rows []record.Raw

	err := each(strings.NewReader(content), Filter{Field: "Country_Region", Value: "US"},
		func(row record.Raw) error {
			rows = append(rows, row)

			return nil
		})
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, record.Raw{
		"Province_State": "Washington",
		"Country_Region": "US",
		"Last_Update":    "1/22/2020 17:00",
		"Confirmed":      "1",
	}, rows[0])
	assert.Equal(t, "", rows[1]["Confirmed"])
}

func TestEach_ShortRowsPadded(t *testing.T) {
	content := "Admin2,Province_State,Confirmed\nAlpha,X\n"

	var rows []record.Raw

	err := each(strings.NewReader(content), Filter{}, func(row record.Raw) error {
		rows = append(rows, row)

		return nil
	})
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0]["Confirmed"])
}

func TestEach_StopsOnCallbackError(t *testing.T) {
	content := "a\n1\n2\n3\n"
	boom := errors.New("boom")
	calls := 0

	err := each(strings.NewReader(content), Filter{}, func(record.Raw) error {
		calls++

		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestEach_EmptyFile(t *testing.T) {
	err := each(strings.NewReader(""), Filter{}, func(record.Raw) error {
		t.Fatal("no rows expected")

		return nil
	})
	assert.NoError(t, err)
}

func TestEach_File(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "04-01-2020.csv", "Admin2,Confirmed\nAlpha,3\n")

	count := 0
	err := Each(filepath.Join(dir, "04-01-2020.csv"), Filter{}, func(row record.Raw) error {
		count++
		assert.Equal(t, "Alpha", row["Admin2"])

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = Each(filepath.Join(dir, "missing.csv"), Filter{}, func(record.Raw) error { return nil })
	assert.Error(t, err)
}
