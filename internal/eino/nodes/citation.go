package nodes

import (
	"fmt"
	"strings"
)

// UnknownSource 无法确定出处时的引用文本
const UnknownSource = "Không xác định nguồn"

// 部分文书在抓取时字体编码损坏，按原文件名修正
var documentMapping = map[string]string{
	"Ngh nh 168-2024-N-CP": "Nghị định 168/2024/NĐ-CP",
	"Ngh nh 03-2021-N-CP":  "Nghị định 03/2021/NĐ-CP",
	"Ngh nh 100-2019-N-CP": "Nghị định 100/2019/NĐ-CP",
	"Ngh nh 123-2021-N-CP": "Nghị định 123/2021/NĐ-CP",
	"Lu t 35-2024-QH15":    "Luật 35/2024/QH15",
	"Lu t 36-2024-QH15":    "Luật 36/2024/QH15",
}

// NormalizeLawID 修正编码损坏的文书名称
func NormalizeLawID(lawID string) string {
	if fixed, ok := documentMapping[lawID]; ok {
		return fixed
	}
	return lawID
}

// FormatCitation 由文档元数据生成 "文书, Điều n, Khoản n, Điểm x" 形式的引用
func FormatCitation(meta map[string]any) string {
	var parts []string
	if v := metaString(meta, "law_id"); v != "" {
		parts = append(parts, NormalizeLawID(v))
	}
	if v := metaString(meta, "article_id"); v != "" {
		parts = append(parts, "Điều "+v)
	}
	if v := metaString(meta, "clause_id"); v != "" {
		parts = append(parts, "Khoản "+v)
	}
	if v := metaString(meta, "point_id"); v != "" {
		parts = append(parts, "Điểm "+v)
	}
	if len(parts) == 0 {
		return UnknownSource
	}
	return strings.Join(parts, ", ")
}

func metaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}
