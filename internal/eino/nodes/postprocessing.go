package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// ContextBlock 送入大模型的法条上下文
type ContextBlock struct {
	Text      string
	Citations []string
}

// BuildContext 将检索文档拼成带引用标注的上下文，引用按出现顺序去重
func BuildContext(docs []*schema.Document) ContextBlock {
	var (
		b         strings.Builder
		citations []string
		seen      = make(map[string]bool)
	)
	for i, doc := range docs {
		cite := FormatCitation(doc.MetaData)
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (%s)\n%s", i+1, cite, strings.TrimSpace(doc.Content))
		if cite != UnknownSource && !seen[cite] {
			seen[cite] = true
			citations = append(citations, cite)
		}
	}
	return ContextBlock{Text: b.String(), Citations: citations}
}

const userTemplate = `Dựa vào văn bản pháp luật sau để trả lời:
--- BẮT ĐẦU VĂN BẢN ---
{context}
--- KẾT THÚC VĂN BẢN ---

Câu hỏi: {question}`

// PromptBuilder 使用 eino 对话模板组装消息：人设系统提示、会话历史、法条上下文和问题
type PromptBuilder struct {
	tpl prompt.ChatTemplate
}

// NewPromptBuilder 创建消息构造器
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		tpl: prompt.FromMessages(schema.FString,
			schema.SystemMessage("{system}"),
			schema.MessagesPlaceholder("history", true),
			schema.UserMessage(userTemplate),
		),
	}
}

// Build 生成完整的消息列表
func (p *PromptBuilder) Build(ctx context.Context, system string, history []*schema.Message, block ContextBlock, question string) ([]*schema.Message, error) {
	text := block.Text
	if text == "" {
		text = "(không có văn bản liên quan)"
	}
	return p.tpl.Format(ctx, map[string]any{
		"system":   system,
		"history":  history,
		"context":  text,
		"question": question,
	})
}
