// Package persona 管理机器人的回答人设
package persona

import "strings"

// 人设名称
const (
	General = "general"
	Legal   = "legal"
	CSGT    = "csgt"
)

// Persona 人设定义
type Persona struct {
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"-"`
	Keywords     []string `json:"keywords"`
	HandlerTypes []string `json:"handler_types,omitempty"`
}

// Defaults 默认人设
func Defaults() []Persona {
	return []Persona{
		{
			Key:         General,
			Name:        "Trợ lý pháp luật giao thông",
			Description: "Giải thích quy định giao thông dễ hiểu cho người dân",
			SystemPrompt: `Bạn là trợ lý ảo pháp luật giao thông thân thiện.
Nhiệm vụ: Giải thích quy định giao thông dễ hiểu cho người dân.
Quy tắc:
- Luôn trích dẫn nguồn (Điều/Khoản) nếu có.
- Nếu không biết, hãy nói không biết.
- Giữ thái độ lịch sự.`,
			Keywords:     []string{"hỏi", "giúp", "thông tin"},
			HandlerTypes: []string{"conversation", "knowledge_base"},
		},
		{
			Key:         Legal,
			Name:        "Luật sư tư vấn giao thông",
			Description: "Phân tích pháp lý chuyên sâu",
			SystemPrompt: `Bạn là Luật sư tư vấn giao thông cấp cao.
Phong cách: Phân tích sâu sắc, tư duy pháp lý chặt chẽ.
Nhiệm vụ:
- Phân tích cấu thành hành vi vi phạm.
- Tư vấn quyền lợi: Khiếu nại, giải trình, tình tiết giảm nhẹ.
- Dùng thuật ngữ chuyên ngành chính xác.`,
			Keywords:     []string{"khiếu nại", "giải trình", "luật sư", "tòa án", "quyền lợi", "lawyer", "court"},
			HandlerTypes: []string{"legal_specialist"},
		},
		{
			Key:         CSGT,
			Name:        "Trợ lý nghiệp vụ CSGT",
			Description: "Tra cứu nhanh căn cứ và khung phạt tại hiện trường",
			SystemPrompt: `Bạn là Trợ lý Nghiệp vụ hỗ trợ Cảnh sát giao thông.
Phong cách trả lời: NGẮN GỌN - CHÍNH XÁC - KHÔNG DƯ THỪA.
Cấu trúc câu trả lời bắt buộc:
1. Lỗi vi phạm: [Tên lỗi]
2. Mức phạt tiền: [Số tiền]
3. Hình phạt bổ sung: [Tước bằng/Tạm giữ xe...]
4. Căn cứ: [Điều khoản cụ thể]
Không chào hỏi xã giao.`,
			Keywords: []string{"csgt", "biên bản", "lập biên bản", "tạm giữ", "tước bằng", "/lookup", "/checklist"},
		},
	}
}

// Registry 人设注册表
type Registry struct {
	personas   map[string]Persona
	order      []string
	defaultKey string
}

// NewRegistry 创建注册表；defaultKey 不存在时回落到 general
func NewRegistry(personas []Persona, defaultKey string) *Registry {
	if len(personas) == 0 {
		personas = Defaults()
	}
	r := &Registry{personas: make(map[string]Persona, len(personas))}
	for _, p := range personas {
		if _, dup := r.personas[p.Key]; !dup {
			r.order = append(r.order, p.Key)
		}
		r.personas[p.Key] = p
	}
	if _, ok := r.personas[defaultKey]; !ok {
		defaultKey = General
	}
	if _, ok := r.personas[defaultKey]; !ok {
		defaultKey = r.order[0]
	}
	r.defaultKey = defaultKey
	return r
}

// Get 按名称获取人设，不存在时返回默认人设
func (r *Registry) Get(key string) Persona {
	if p, ok := r.personas[strings.ToLower(strings.TrimSpace(key))]; ok {
		return p
	}
	return r.personas[r.defaultKey]
}

// Has 是否存在该人设
func (r *Registry) Has(key string) bool {
	_, ok := r.personas[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// List 按注册顺序列出人设
func (r *Registry) List() []Persona {
	out := make([]Persona, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.personas[k])
	}
	return out
}

// Select 依次按显式指定、路由处理类型、关键词得分选择人设，都不满足时用默认人设。
// handlerType 为空表示路由没有给出明确结论。
func (r *Registry) Select(explicit, handlerType, question string) Persona {
	if explicit != "" && r.Has(explicit) {
		return r.Get(explicit)
	}

	if handlerType != "" {
		for _, k := range r.order {
			if r.handles(k, handlerType) {
				return r.personas[k]
			}
		}
	}

	lower := strings.ToLower(question)
	bestKey, bestScore := "", 0
	for _, k := range r.order {
		score := 0
		for _, kw := range r.personas[k].Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				score++
			}
		}
		if score > bestScore {
			bestKey, bestScore = k, score
		}
	}
	if bestKey != "" {
		return r.personas[bestKey]
	}

	return r.personas[r.defaultKey]
}

func (r *Registry) handles(key, handlerType string) bool {
	for _, h := range r.personas[key].HandlerTypes {
		if h == handlerType {
			return true
		}
	}
	return false
}
