// Package selection 保存用户当前对模式、文档和模板的选择。
package selection

import (
	"sort"
	"sync"

	"docchat-go/internal/model"
)

// Snapshot 是发送时刻捕获的上下文，之后的选择变化不会影响它。
type Snapshot struct {
	Mode        model.Mode
	DocumentIDs []string
	TemplateIDs []string
}

// Store 是纯状态容器，没有任何 I/O。
type Store struct {
	mu        sync.RWMutex
	mode      model.Mode
	documents map[string]struct{}
	templates map[string]struct{}
}

// NewStore 创建一个默认模式为 RAG、未选择任何文档和模板的 Store。
func NewStore() *Store {
	return &Store{
		mode:      model.DefaultMode,
		documents: make(map[string]struct{}),
		templates: make(map[string]struct{}),
	}
}

// SetMode 设置下一条消息或下一个会话使用的模式。
func (s *Store) SetMode(mode model.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Mode 返回当前模式。
func (s *Store) Mode() model.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// ToggleDocument 切换文档的选中状态，返回切换后是否选中。
func (s *Store) ToggleDocument(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return toggle(s.documents, id)
}

// ToggleTemplate 切换模板的选中状态，返回切换后是否选中。
func (s *Store) ToggleTemplate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return toggle(s.templates, id)
}

func (s *Store) DocumentSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.documents[id]
	return ok
}

func (s *Store) TemplateSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.templates[id]
	return ok
}

// Counts 返回已选文档数和模板数。
func (s *Store) Counts() (documents, templates int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents), len(s.templates)
}

// ClearDocuments 清空文档选择。
func (s *Store) ClearDocuments() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = make(map[string]struct{})
}

// Snapshot 返回当前选择的不可变副本。ID 切片按字典序排列，保证请求体稳定。
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Mode:        s.mode,
		DocumentIDs: sortedKeys(s.documents),
		TemplateIDs: sortedKeys(s.templates),
	}
}

func toggle(set map[string]struct{}, id string) bool {
	if _, ok := set[id]; ok {
		delete(set, id)
		return false
	}
	set[id] = struct{}{}
	return true
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
