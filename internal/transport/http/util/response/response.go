package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cocaine/cocaine-framework-go/internal/domain/dealer"
)

// BaseResponse 统一的 JSON 响应结构
type BaseResponse struct {
	Code     int    `json:"code"`               // HTTP 状态码
	Message  string `json:"message"`            // 响应消息
	Category string `json:"category,omitempty"` // dealer 错误类别
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Success 创建成功响应
func Success(data any) *BaseResponse {
	return &BaseResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	}
}

// BadRequest 创建错误请求响应
func BadRequest(error string) *BaseResponse {
	return &BaseResponse{
		Code:    http.StatusBadRequest,
		Message: "bad request",
		Error:   error,
	}
}

// Unauthorized 创建未授权响应
func Unauthorized(error string) *BaseResponse {
	return &BaseResponse{
		Code:    http.StatusUnauthorized,
		Message: "unauthorized",
		Error:   error,
	}
}

// Forbidden 创建禁止访问响应
func Forbidden(error string) *BaseResponse {
	return &BaseResponse{
		Code:    http.StatusForbidden,
		Message: "forbidden",
		Error:   error,
	}
}

// InternalError 创建内部错误响应
func InternalError(error string) *BaseResponse {
	return &BaseResponse{
		Code:    http.StatusInternalServerError,
		Message: "internal server error",
		Error:   error,
	}
}

// ServiceUnavailable 功能未启用
func ServiceUnavailable(error string) *BaseResponse {
	return &BaseResponse{
		Code:    http.StatusServiceUnavailable,
		Message: "service unavailable",
		Error:   error,
	}
}

// StatusFor 将 dealer 错误类别映射为 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, dealer.ErrMalformedRequest):
		return http.StatusBadRequest
	case errors.Is(err, dealer.ErrUnresolvedLocation):
		return http.StatusNotFound
	case errors.Is(err, dealer.ErrUsage):
		return http.StatusConflict
	case errors.Is(err, dealer.ErrConfiguration):
		return http.StatusInternalServerError
	case errors.Is(err, dealer.ErrTransportFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FromError 根据 dealer 错误创建响应
func FromError(err error) *BaseResponse {
	code := StatusFor(err)
	return &BaseResponse{
		Code:     code,
		Message:  http.StatusText(code),
		Category: dealer.Category(err),
		Error:    err.Error(),
	}
}

// WriteJSON 将响应写入 HTTP 响应
func (r *BaseResponse) WriteJSON(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.Code)
	return json.NewEncoder(w).Encode(r)
}

// NotFound 创建资源未找到响应
func NotFound(error string) *BaseResponse {
	return &BaseResponse{
		Code:    http.StatusNotFound,
		Message: "not found",
		Error:   error,
	}
}
