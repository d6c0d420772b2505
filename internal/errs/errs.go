// Package errs 定义了客户端核心的错误分类。
//
// 每个失败都归入四类之一：Validation（发送前即被拒绝，不产生任何状态变化）、
// Unauthorized（凭证缺失、过期或被后端拒绝）、Transport（网络或服务端失败，
// 不假设任何部分成功）、Cancelled（用户主动取消了进行中的发送）。
package errs

import (
	"errors"
	"fmt"
)

// Kind 是错误的分类。
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindTransport    Kind = "transport"
	KindCancelled    Kind = "cancelled"
)

// Error 是携带分类与可读信息的错误。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation 创建一个校验错误。
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Unauthorized 创建一个未授权错误。
func Unauthorized(message string, err error) *Error {
	return &Error{Kind: KindUnauthorized, Message: message, Err: err}
}

// Transport 创建一个传输错误。
func Transport(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}

// Cancelled 创建一个取消错误。
func Cancelled(err error) *Error {
	return &Error{Kind: KindCancelled, Message: "send cancelled", Err: err}
}

// KindOf 返回 err 链上第一个 *Error 的分类；未分类的错误按 Transport 处理。
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// Is 判断 err 是否属于给定分类。
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf 返回适合展示给用户的错误信息。
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
