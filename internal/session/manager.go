// Package session 按会话保存最近的对话轮次，会话数量有上限且空闲过期
package session

import (
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Turn 一条对话消息
type Turn struct {
	Role      schema.RoleType `json:"role"`
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// Message 转换为 eino 消息
func (t Turn) Message() *schema.Message {
	return &schema.Message{Role: t.Role, Content: t.Content}
}

type conversation struct {
	mu    sync.Mutex
	turns []Turn
}

// Config 会话管理配置
type Config struct {
	MaxSessions int
	IdleTTL     time.Duration
	Window      int // 每个会话保留的消息条数
}

// Manager 会话管理器，取代全局单例，通过依赖注入使用
type Manager struct {
	mu     sync.Mutex
	cache  *expirable.LRU[string, *conversation]
	window int
	now    func() time.Time
}

// NewManager 创建会话管理器
func NewManager(cfg Config) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10000
	}
	if cfg.Window <= 0 {
		cfg.Window = 20
	}
	return &Manager{
		cache:  expirable.NewLRU[string, *conversation](cfg.MaxSessions, nil, cfg.IdleTTL),
		window: cfg.Window,
		now:    time.Now,
	}
}

// History 返回会话的消息副本，旧的在前
func (m *Manager) History(id string) []Turn {
	c, ok := m.cache.Get(id)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Messages 以 eino 消息形式返回会话历史
func (m *Manager) Messages(id string) []*schema.Message {
	turns := m.History(id)
	msgs := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, t.Message())
	}
	return msgs
}

// Append 追加一条消息并刷新会话的过期时间
func (m *Manager) Append(id string, role schema.RoleType, content string) {
	m.mu.Lock()
	c, ok := m.cache.Get(id)
	if !ok {
		c = &conversation{}
	}
	// 重新写入以刷新 TTL 和 LRU 位置
	m.cache.Add(id, c)
	m.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, Turn{Role: role, Content: content, CreatedAt: m.now()})
	if over := len(c.turns) - m.window; over > 0 {
		c.turns = append(c.turns[:0:0], c.turns[over:]...)
	}
}

// AppendExchange 记录一问一答
func (m *Manager) AppendExchange(id, question, answer string) {
	m.Append(id, schema.User, question)
	m.Append(id, schema.Assistant, answer)
}

// Reset 删除会话，返回会话是否存在
func (m *Manager) Reset(id string) bool {
	return m.cache.Remove(id)
}

// ResetAll 清空全部会话
func (m *Manager) ResetAll() {
	m.cache.Purge()
}

// Len 当前会话数
func (m *Manager) Len() int {
	return m.cache.Len()
}
