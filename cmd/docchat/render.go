package main

import (
	"fmt"
	"io"
	"sync"

	"docchat-go/internal/model"
	"docchat-go/internal/session"
)

// renderer 把会话日志的变化实时打印到终端。用户消息由用户自己输入，不再回显。
type renderer struct {
	mu        sync.Mutex
	w         io.Writer
	streaming bool
	// printed 是当前流式回复已经输出的文本
	printed string
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w}
}

func (r *renderer) observe(c session.Change) {
	if c.Kind == session.ChangeState || c.Message.Role != model.RoleAssistant {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m := c.Message
	switch c.Kind {
	case session.ChangeAppended:
		switch m.Status {
		case model.StatusPending:
			// 流式占位消息，后续片段接在后面
			r.streaming = true
			r.printed = ""
			fmt.Fprint(r.w, "assistant> ")
		case model.StatusFailed:
			fmt.Fprintf(r.w, "assistant> [%s]\n", m.Text)
		default:
			fmt.Fprintf(r.w, "assistant> %s\n", m.Text)
		}

	case session.ChangeUpdated:
		if !r.streaming {
			return
		}
		switch {
		case c.Fragment != "":
			r.printed += c.Fragment
			fmt.Fprint(r.w, c.Fragment)
		case m.Status == model.StatusCommitted:
			r.streaming = false
			fmt.Fprintln(r.w)
			if m.Text != r.printed {
				// 后端最终给出的完整回复与已输出的片段不同，重新打印
				fmt.Fprintf(r.w, "assistant> %s\n", m.Text)
			}
		case m.Status == model.StatusFailed:
			// 已打印的部分内容作废，另起一行给出失败原因
			r.streaming = false
			fmt.Fprintf(r.w, "\nassistant> [%s]\n", m.Text)
		}
	}
}
