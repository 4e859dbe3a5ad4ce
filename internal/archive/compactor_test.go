package archive

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"coinetl/internal/models"
)

type fakeSource struct {
	keys    []string
	objects map[string][]byte
}

func (f *fakeSource) ListKeys(ctx context.Context) ([]string, error) { return f.keys, nil }
func (f *fakeSource) Download(ctx context.Context, key string) ([]byte, error) {
	return f.objects[key], nil
}

type fakeArchive struct {
	ensured  bool
	uploads  map[string]int64
	metadata map[string]map[string]*string
}

func (f *fakeArchive) EnsureBucket(ctx context.Context) error {
	f.ensured = true
	return nil
}

func (f *fakeArchive) UploadWithMetadata(ctx context.Context, localPath, key, contentType string, metadata map[string]*string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	if f.uploads == nil {
		f.uploads = map[string]int64{}
		f.metadata = map[string]map[string]*string{}
	}
	f.uploads[key] = info.Size()
	f.metadata[key] = metadata
	return nil
}

type fakeLedger struct {
	processed map[string]struct{}
}

func (f *fakeLedger) Processed(ctx context.Context) (map[string]struct{}, error) {
	return f.processed, nil
}

func snapshotCSV(t *testing.T, coinIDs ...string) []byte {
	t.Helper()
	rows := make([]models.CoinSnapshot, 0, len(coinIDs))
	for _, id := range coinIDs {
		rows = append(rows, models.CoinSnapshot{
			ID:          id,
			Symbol:      id[:3],
			Name:        id,
			LastUpdated: "2024-03-14T10:00:00.000Z",
		})
	}
	var buf bytes.Buffer
	require.NoError(t, models.WriteCSV(&buf, rows))
	return buf.Bytes()
}

func TestCompactorRun(t *testing.T) {
	source := &fakeSource{
		keys: []string{
			"2024/03/13/10-00-00.csv",
			"2024/03/14/10-00-00.csv",
			"2024/03/14/10-03-00.csv",
		},
		objects: map[string][]byte{
			"2024/03/13/10-00-00.csv": snapshotCSV(t, "bitcoin", "ethereum"),
			"2024/03/14/10-00-00.csv": snapshotCSV(t, "bitcoin"),
			"2024/03/14/10-03-00.csv": snapshotCSV(t, "bitcoin"),
		},
	}
	archive := &fakeArchive{}
	ledger := &fakeLedger{processed: map[string]struct{}{
		"2024/03/13/10-00-00.csv": {},
		"2024/03/14/10-00-00.csv": {},
		"2024/03/14/10-03-00.csv": {},
	}}

	c, err := NewCompactor(source, archive, ledger, nil)
	require.NoError(t, err)
	defer c.Cleanup()

	require.NoError(t, c.Run(context.Background()))
	require.True(t, archive.ensured)
	require.Len(t, archive.uploads, 2)
	require.Greater(t, archive.uploads["2024/q1/2024-03-13.parquet"], int64(0))
	require.Greater(t, archive.uploads["2024/q1/2024-03-14.parquet"], int64(0))
	require.Equal(t, "2", *archive.metadata["2024/q1/2024-03-14.parquet"]["record-count"])
}

func TestGroupByDay(t *testing.T) {
	keys := []string{
		"2024/03/14/10-00-00.csv",
		"2024/03/14/10-03-00.csv",
		"2024/03/15/10-00-00.csv", // today, still receiving uploads
		"2024/03/14/09-57-00.csv", // not ingested yet
		"2024/03/14/notes.txt",
		"stray-object.csv",
	}
	processed := map[string]struct{}{
		"2024/03/14/10-00-00.csv": {},
		"2024/03/14/10-03-00.csv": {},
		"2024/03/15/10-00-00.csv": {},
		"stray-object.csv":        {},
	}

	groups := GroupByDay(keys, processed, "2024/03/15")
	require.Len(t, groups, 1)
	require.ElementsMatch(t,
		[]string{"2024/03/14/10-00-00.csv", "2024/03/14/10-03-00.csv"},
		groups["2024/03/14"])
}

func TestGroupByDayEmpty(t *testing.T) {
	require.Empty(t, GroupByDay(nil, nil, "2024/03/15"))
}

func TestArchiveKey(t *testing.T) {
	cases := map[string]string{
		"2024/01/15": "2024/q1/2024-01-15.parquet",
		"2024/03/31": "2024/q1/2024-03-31.parquet",
		"2024/04/01": "2024/q2/2024-04-01.parquet",
		"2024/09/30": "2024/q3/2024-09-30.parquet",
		"2024/12/31": "2024/q4/2024-12-31.parquet",
	}
	for day, want := range cases {
		got, err := ArchiveKey(day)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ArchiveKey("2024-03-15")
	require.Error(t, err)
}
