package provider

import (
	"errors"
	"fmt"
)

// ErrRejected 供应商明确拒绝（响应体 status 非 200）
// 与网络/超时错误严格区分：被拒绝的请求可以放心置失败，
// 超时的请求远端副作用可能已经发生，只能留给人工对账
var ErrRejected = errors.New("供应商拒绝请求")

// 供应商响应体 status 错误码，逐一映射为独立错误
var (
	ErrInvalidAPIKey      = fmt.Errorf("%w: api_key 无效 (300)", ErrRejected)
	ErrInvalidSignature   = fmt.Errorf("%w: 签名校验失败 (400)", ErrRejected)
	ErrMissingSignature   = fmt.Errorf("%w: 缺少签名请求头 (500)", ErrRejected)
	ErrExpiredTimestamp   = fmt.Errorf("%w: 时间戳已过期 (600)", ErrRejected)
	ErrMissingAccessToken = fmt.Errorf("%w: 缺少 access token 请求头 (700)", ErrRejected)
	ErrInvalidAccessToken = fmt.Errorf("%w: access token 无效 (2000)", ErrRejected)
	ErrResellerInactive   = fmt.Errorf("%w: 分销账号未激活 (2100)", ErrRejected)
	ErrResellerSuspended  = fmt.Errorf("%w: 分销账号被暂停 (2200)", ErrRejected)
)

var statusErrors = map[string]error{
	"300":  ErrInvalidAPIKey,
	"400":  ErrInvalidSignature,
	"500":  ErrMissingSignature,
	"600":  ErrExpiredTimestamp,
	"700":  ErrMissingAccessToken,
	"2000": ErrInvalidAccessToken,
	"2100": ErrResellerInactive,
	"2200": ErrResellerSuspended,
}

func errForStatus(status, message string) error {
	if err, ok := statusErrors[status]; ok {
		return err
	}
	return fmt.Errorf("%w: status=%s message=%s", ErrRejected, status, message)
}
