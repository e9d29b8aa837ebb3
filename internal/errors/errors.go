package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown      ErrorCode = 1000
	ErrInvalidParam ErrorCode = 1001
	ErrNotFound     ErrorCode = 1002
	ErrTimeout      ErrorCode = 1005

	// 游戏错误 (2000-2999)
	ErrRoomNotFound      ErrorCode = 2000
	ErrUnknownAction     ErrorCode = 2002
	ErrInvalidSpawnRate  ErrorCode = 2003
	ErrNicknameWordsMiss ErrorCode = 2004
	ErrInvalidCount      ErrorCode = 2006

	// 实时通信错误 (4000-4999)
	ErrWebSocketConnect ErrorCode = 4000

	// 数据库错误 (5000-5999)
	ErrDatabaseConnect ErrorCode = 5000
	ErrDatabaseQuery   ErrorCode = 5001
	ErrDatabaseInsert  ErrorCode = 5002
	ErrDatabaseUpdate  ErrorCode = 5003
	ErrDatabaseDelete  ErrorCode = 5004
	ErrTransaction     ErrorCode = 5005

	// 配置错误 (6000-6999)
	ErrConfigLoad    ErrorCode = 6000
	ErrConfigMissing ErrorCode = 6003

	// 安全错误 (7000-7999)
	ErrAuthentication ErrorCode = 7000
	ErrTokenExpired   ErrorCode = 7002
	ErrTokenInvalid   ErrorCode = 7003
)

var errorMessages = map[ErrorCode]string{
	ErrUnknown:      "未知错误",
	ErrInvalidParam: "无效的参数",
	ErrNotFound:     "资源未找到",
	ErrTimeout:      "操作超时",

	ErrRoomNotFound:      "房间不存在",
	ErrUnknownAction:     "未知的管理操作",
	ErrInvalidSpawnRate:  "无效的生成速率",
	ErrNicknameWordsMiss: "昵称词库为空",
	ErrInvalidCount:      "无效的数量",

	ErrWebSocketConnect: "WebSocket连接失败",

	ErrDatabaseConnect: "数据库连接失败",
	ErrDatabaseQuery:   "数据库查询失败",
	ErrDatabaseInsert:  "数据库插入失败",
	ErrDatabaseUpdate:  "数据库更新失败",
	ErrDatabaseDelete:  "数据库删除失败",
	ErrTransaction:     "事务处理失败",

	ErrConfigLoad:    "配置加载失败",
	ErrConfigMissing: "配置项缺失",

	ErrAuthentication: "认证失败",
	ErrTokenExpired:   "令牌已过期",
	ErrTokenInvalid:   "无效的令牌",
}

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string // 错误码对应的内部描述
	Details string
	Public  string // 返回给客户端的文案
	Cause   error
	Origin  string // 创建位置 file:line
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithPublic 设置对外文案
func (e *AppError) WithPublic(msg string) *AppError {
	e.Public = msg
	return e
}

// PublicMessage 对外文案，未设置时回退到 Message
func (e *AppError) PublicMessage() string {
	if e.Public != "" {
		return e.Public
	}
	return e.Message
}

// New 创建应用错误，多段详情用分号连接
func New(code ErrorCode, details ...string) *AppError {
	return newAt(2, code, details)
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return newAt(2, code, []string{fmt.Sprintf(format, args...)})
}

// Wrap 包装错误；已经是 AppError 时保留原错误码，只在详情前追加说明
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	appErr := newAt(2, code, details)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	}
	return appErr
}

func newAt(skip int, code ErrorCode, details []string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}
	e := &AppError{Code: code, Message: message}
	if len(details) > 0 {
		e.Details = strings.Join(details, "; ")
	}
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		e.Origin = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	return e
}

// As 提取错误链上的 AppError
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is 判断错误链上是否有指定错误码
func Is(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

// GetCode 错误码，非 AppError 返回 ErrUnknown
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrUnknown
}

// HTTPStatus 对应的 HTTP 状态码
func (e *AppError) HTTPStatus() int {
	switch {
	case e.Code == ErrInvalidParam:
		return http.StatusBadRequest
	case e.Code == ErrNotFound:
		return http.StatusNotFound
	case e.Code == ErrTimeout:
		return http.StatusRequestTimeout
	case e.Code >= 2000 && e.Code <= 2999:
		return http.StatusBadRequest
	case e.Code >= 7000 && e.Code <= 7003:
		return http.StatusUnauthorized
	case e.Code >= 5000 && e.Code <= 5999:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable 暂时性故障，下一次调度可能成功
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch GetCode(err) {
	case ErrTimeout, ErrWebSocketConnect, ErrDatabaseConnect, ErrDatabaseQuery, ErrTransaction:
		return true
	default:
		return false
	}
}
