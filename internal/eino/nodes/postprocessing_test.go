package nodes

import (
	"context"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func TestBuildContext(t *testing.T) {
	docs := []*schema.Document{
		{Content: " Phạt tiền từ 4 đến 6 triệu ", MetaData: map[string]any{"law_id": "Ngh nh 168-2024-N-CP", "article_id": "7"}},
		{Content: "Tước bằng 1 đến 3 tháng", MetaData: map[string]any{"law_id": "Ngh nh 168-2024-N-CP", "article_id": "7"}},
		{Content: "Văn bản không rõ nguồn", MetaData: map[string]any{}},
	}

	block := BuildContext(docs)
	if len(block.Citations) != 1 || block.Citations[0] != "Nghị định 168/2024/NĐ-CP, Điều 7" {
		t.Fatalf("unexpected citations %v", block.Citations)
	}
	if !strings.HasPrefix(block.Text, "[1] (Nghị định 168/2024/NĐ-CP, Điều 7)\nPhạt tiền từ 4 đến 6 triệu") {
		t.Errorf("unexpected context %q", block.Text)
	}
	if !strings.Contains(block.Text, "[3] ("+UnknownSource+")") {
		t.Errorf("expected unknown source marker, got %q", block.Text)
	}
}

func TestPromptBuilder_Build(t *testing.T) {
	history := []*schema.Message{
		schema.UserMessage("Xe máy vượt đèn đỏ phạt bao nhiêu?"),
		schema.AssistantMessage("Từ 4 đến 6 triệu đồng.", nil),
	}

	msgs, err := NewPromptBuilder().Build(context.Background(), "Bạn là trợ lý {không phải biến}", history,
		ContextBlock{Text: "[1] (Điều 7)\nPhạt tiền"}, "Còn ô tô thì sao?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != schema.System || msgs[0].Content != "Bạn là trợ lý {không phải biến}" {
		t.Errorf("unexpected system message %+v", msgs[0])
	}
	if msgs[2].Role != schema.Assistant {
		t.Errorf("expected history preserved, got %+v", msgs[2])
	}
	last := msgs[3].Content
	if !strings.Contains(last, "Phạt tiền") || !strings.HasSuffix(last, "Câu hỏi: Còn ô tô thì sao?") {
		t.Errorf("unexpected user message %q", last)
	}
}

func TestPromptBuilder_NoHistoryNoContext(t *testing.T) {
	msgs, err := NewPromptBuilder().Build(context.Background(), "sys", nil, ContextBlock{}, "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !strings.Contains(msgs[1].Content, "không có văn bản liên quan") {
		t.Errorf("expected empty-context marker, got %q", msgs[1].Content)
	}
}
