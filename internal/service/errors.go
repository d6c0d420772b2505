package service

import "errors"

// 业务层错误，由 handler 映射为 HTTP 状态码。
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
