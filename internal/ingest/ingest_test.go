package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-law-bot/pkg/logger"
)

const sampleJSONL = `{"id":"nd100-d6-k4-a","text":"Phạt tiền từ 800.000 đồng đến 1.000.000 đồng đối với hành vi không chấp hành hiệu lệnh của đèn tín hiệu giao thông.","law_id":"Nghị định 100/2019/NĐ-CP","article_id":"6","clause_id":"4","point_id":"a"}

{"text":"Người điều khiển xe mô tô phải đội mũ bảo hiểm.","law_id":"Luật 36/2024/QH15","article_id":"33","title":"Luật Trật tự, an toàn giao thông đường bộ"}
{"id":"7c9e6679-7425-40de-944b-e07fc1f90ae7","text":"Tước quyền sử dụng giấy phép lái xe từ 01 tháng đến 03 tháng.","law_id":"Nghị định 100/2019/NĐ-CP","article_id":"6","clause_id":"10"}
`

type recordingIndexer struct {
	batches [][]*schema.Document
	failAt  int
}

func (r *recordingIndexer) Store(_ context.Context, docs []*schema.Document, _ ...indexer.Option) ([]string, error) {
	if r.failAt > 0 && len(r.batches)+1 == r.failAt {
		return nil, errors.New("qdrant unavailable")
	}
	r.batches = append(r.batches, docs)
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func TestReadJSONL(t *testing.T) {
	records, err := ReadJSONL(strings.NewReader(sampleJSONL))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].PointID)
	assert.Empty(t, records[1].ID)
	assert.Equal(t, "Luật Trật tự, an toàn giao thông đường bộ", records[1].Title)
}

func TestReadJSONLErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantLine int
		wantMsg  string
	}{
		{name: "bad json", input: "{\"text\":\"a\",\"law_id\":\"x\"}\n{oops", wantLine: 2, wantMsg: "invalid character"},
		{name: "missing text", input: "\n\n{\"law_id\":\"x\"}", wantLine: 3, wantMsg: "text is required"},
		{name: "missing law", input: "{\"text\":\"a\"}", wantLine: 1, wantMsg: "law_id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadJSONL(strings.NewReader(tt.input))
			var lineErr *LineError
			require.ErrorAs(t, err, &lineErr)
			assert.Equal(t, tt.wantLine, lineErr.Line)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestRecordDocument(t *testing.T) {
	t.Run("non uuid id is derived and kept", func(t *testing.T) {
		rec := Record{ID: "nd100-d6-k4-a", Text: "  Phạt   tiền ", LawID: "Nghị định 100/2019/NĐ-CP", ArticleID: "6", ClauseID: "4", PointID: "a"}
		doc := rec.Document()

		_, err := uuid.Parse(doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, rec.Document().ID, "derived id must be stable")
		assert.Equal(t, "Phạt tiền", doc.Content)
		assert.Equal(t, "nd100-d6-k4-a", doc.MetaData[MetaSourceID])
		assert.Equal(t, "a", doc.MetaData[MetaPointID])
	})

	t.Run("uuid id kept as is", func(t *testing.T) {
		id := "7c9e6679-7425-40de-944b-e07fc1f90ae7"
		doc := Record{ID: id, Text: "x", LawID: "l"}.Document()
		assert.Equal(t, id, doc.ID)
		assert.NotContains(t, doc.MetaData, MetaSourceID)
	})

	t.Run("missing id gets a fresh uuid", func(t *testing.T) {
		doc := Record{Text: "x", LawID: "l"}.Document()
		_, err := uuid.Parse(doc.ID)
		require.NoError(t, err)
		assert.NotContains(t, doc.MetaData, MetaArticleID)
	})
}

func TestIngestBatches(t *testing.T) {
	idx := &recordingIndexer{}
	ing := NewIngester(idx, 2, logger.Discard())

	records, err := ReadJSONL(strings.NewReader(sampleJSONL))
	require.NoError(t, err)

	res, err := ing.Ingest(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Records)
	assert.Equal(t, 3, res.Indexed)
	assert.Equal(t, 2, res.Batches)
	assert.Len(t, res.IDs, 3)
	require.Len(t, idx.batches, 2)
	assert.Len(t, idx.batches[0], 2)
	assert.Len(t, idx.batches[1], 1)
}

func TestIngestStopsOnBatchError(t *testing.T) {
	idx := &recordingIndexer{failAt: 2}
	ing := NewIngester(idx, 1, logger.Discard())

	records, err := ReadJSONL(strings.NewReader(sampleJSONL))
	require.NoError(t, err)

	res, err := ing.Ingest(context.Background(), records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store batch 2")
	assert.Equal(t, 1, res.Indexed)
}

func TestIngestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laws.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSONL), 0o600))

	idx := &recordingIndexer{}
	res, err := NewIngester(idx, 0, logger.Discard()).IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Indexed)
	assert.Equal(t, 1, res.Batches)

	_, err = NewIngester(idx, 0, logger.Discard()).IngestFile(context.Background(), filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}
