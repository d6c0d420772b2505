package transport

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent 是一个已组装完成的 server-sent event。
type sseEvent struct {
	Name string
	Data string
}

// readSSE 逐个解析事件并交给 fn，fn 返回 false 时停止读取。
// 读到 EOF 时返回 nil，末尾不完整的事件被丢弃；注释行和未知字段会被忽略。
func readSSE(r io.Reader, fn func(sseEvent) bool) error {
	reader := bufio.NewReader(r)
	var (
		name string
		data []string
	)
	dispatch := func() bool {
		if len(data) == 0 && name == "" {
			return true
		}
		ev := sseEvent{Name: name, Data: strings.Join(data, "\n")}
		name, data = "", nil
		return fn(ev)
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		trimmed := strings.TrimRight(line, "\r\n")

		switch {
		case trimmed == "":
			if line != "" && !dispatch() {
				return nil
			}
		case strings.HasPrefix(trimmed, ":"):
			// 注释（心跳）
		default:
			field, value, _ := strings.Cut(trimmed, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				name = value
			case "data":
				data = append(data, value)
			}
		}

		if err == io.EOF {
			return nil
		}
	}
}
