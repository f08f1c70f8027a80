package nodes

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func scoredDocs() []*schema.Document {
	return []*schema.Document{
		{ID: "doc1", Content: "First", MetaData: map[string]any{"score": 0.5}},
		{ID: "doc2", Content: "Second", MetaData: map[string]any{"score": 0.9}},
		{ID: "doc3", Content: "Third", MetaData: map[string]any{"score": 0.7}},
	}
}

func ids(docs []*schema.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestResultSelector_Rank(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		topN     int
		expected []string
	}{
		{name: "first keeps order", strategy: "first", expected: []string{"doc1", "doc2", "doc3"}},
		{name: "highest score", strategy: "highest_score", expected: []string{"doc2", "doc3", "doc1"}},
		{name: "top n", strategy: "highest_score", topN: 2, expected: []string{"doc2", "doc3"}},
		{name: "unknown strategy keeps order", strategy: "random", topN: 1, expected: []string{"doc1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selector := NewResultSelector(tt.strategy, 0.7, tt.topN)
			result, err := selector.Rank(context.Background(), scoredDocs())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := ids(result)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, got)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("expected %v, got %v", tt.expected, got)
					break
				}
			}
		})
	}
}

func TestResultSelector_SelectHighestScore(t *testing.T) {
	selector := NewResultSelector("highest_score", 0.7, 0)

	result, err := selector.Select(context.Background(), scoredDocs())
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result.ID != "doc2" {
		t.Errorf("expected highest score doc (doc2), got %s", result.ID)
	}
}

func TestResultSelector_SelectTemperatureSoftmax(t *testing.T) {
	selector := NewResultSelector("temperature_softmax", 0.1, 0) // 低温度 = 更确定性
	ctx := context.Background()

	docs := []*schema.Document{
		{ID: "doc1", Content: "First", MetaData: map[string]any{"score": 0.5}},
		{ID: "doc2", Content: "Second", MetaData: map[string]any{"score": 0.95}},
		{ID: "doc3", Content: "Third", MetaData: map[string]any{"score": 0.5}},
	}

	highScoreCount := 0
	for i := 0; i < 100; i++ {
		result, err := selector.Rank(ctx, docs)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if len(result) != 3 {
			t.Fatalf("expected all docs ranked, got %d", len(result))
		}
		if result[0].ID == "doc2" {
			highScoreCount++
		}
	}

	// 低温度下，应该大部分时候选择最高分
	if highScoreCount < 80 {
		t.Errorf("expected high score selection to dominate, got %d/100", highScoreCount)
	}
}

func TestResultSelector_EmptyDocs(t *testing.T) {
	selector := NewResultSelector("highest_score", 0.7, 3)

	result, err := selector.Select(context.Background(), []*schema.Document{})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil for empty docs, got %v", result)
	}
}

func TestGetDocScore(t *testing.T) {
	withScore := (&schema.Document{MetaData: map[string]any{}}).WithScore(0.85)

	tests := []struct {
		name     string
		doc      *schema.Document
		expected float64
	}{
		{name: "nil doc", doc: nil, expected: 0},
		{name: "score in metadata", doc: &schema.Document{MetaData: map[string]any{"score": 0.75}}, expected: 0.75},
		{name: "retriever score", doc: withScore, expected: 0.85},
		{name: "no score", doc: &schema.Document{MetaData: map[string]any{"other": "value"}}, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := getDocScore(tt.doc)
			if score != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, score)
			}
		})
	}
}

func TestMergeDocuments(t *testing.T) {
	vector := []*schema.Document{
		{ID: "v1", Content: "Phạt tiền từ 4 đến 6 triệu", MetaData: map[string]any{"law_id": "Nghị định 168/2024/NĐ-CP", "article_id": "7", "score": 0.6}},
		{ID: "v2", Content: "Không có nguồn", MetaData: map[string]any{"score": 0.5}},
		{ID: "v3", Content: "   ", MetaData: map[string]any{}},
	}
	kg := []*schema.Document{
		{ID: "k1", Content: "Phạt tiền từ 4.000.000 đồng", MetaData: map[string]any{"law_id": "Ngh nh 168-2024-N-CP", "article_id": "7", "score": 0.8}},
		{ID: "k2", Content: "không  có nguồn", MetaData: map[string]any{"score": 0.4}},
		{ID: "k3", Content: "Điều 9", MetaData: map[string]any{"article_id": "9"}},
	}

	got := ids(MergeDocuments(vector, kg))
	expected := []string{"k1", "v2", "k3"}
	if len(got) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, got)
		}
	}
}
