package model

import (
	"fmt"
	"strings"
)

// Mode 是后端回答问题时采用的推理策略，在会话创建时确定。
type Mode string

const (
	ModeRAG   Mode = "RAG"
	ModeReACT Mode = "ReACT"
	ModeFlare Mode = "Flare"
)

// DefaultMode 是未显式选择时使用的模式。
const DefaultMode = ModeRAG

// Modes 按展示顺序列出所有模式。
var Modes = []Mode{ModeRAG, ModeReACT, ModeFlare}

// Description 返回模式的简短说明。
func (m Mode) Description() string {
	switch m {
	case ModeRAG:
		return "Retrieve & answer from docs (default)"
	case ModeReACT:
		return "Act + reason chains for complex logic"
	case ModeFlare:
		return "Generative/creative mode with context"
	}
	return ""
}

// Valid 判断是否为已知模式。
func (m Mode) Valid() bool {
	for _, known := range Modes {
		if m == known {
			return true
		}
	}
	return false
}

// ParseMode 不区分大小写地解析模式名称。
func ParseMode(s string) (Mode, error) {
	for _, known := range Modes {
		if strings.EqualFold(strings.TrimSpace(s), string(known)) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q (want one of RAG, ReACT, Flare)", s)
}
