package errors

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Service codes (AA).
const (
	ServiceCommon     = 0
	ServiceIngestion  = 10
	ServiceRetrieval  = 11
	ServiceGeneration = 12
	ServiceSession    = 13
)

// Category codes (BB).
const (
	CategorySuccess     = 0
	CategoryRequest     = 1
	CategoryNotFound    = 4
	CategoryRateLimit   = 6
	CategoryInternal    = 7
	CategoryUnavailable = 10
	CategoryTimeout     = 11
)

// MakeCode builds an AABBCCC error code.
func MakeCode(service, category, seq int) int {
	return service*100000 + category*1000 + seq
}

// ============================================================================
// Success
// ============================================================================

// OK represents a successful operation.
var OK = Register(&Errno{
	Code:      0,
	HTTP:      http.StatusOK,
	MessageEN: "Success",
	MessageZH: "成功",
})

// ============================================================================
// Request Errors (Category: 01)
// ============================================================================

var (
	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = Register(&Errno{
		Code:      MakeCode(ServiceCommon, CategoryRequest, 0),
		HTTP:      http.StatusBadRequest,
		MessageEN: "Bad request",
		MessageZH: "请求错误",
	})

	// ErrInvalidParam indicates an invalid parameter.
	ErrInvalidParam = Register(&Errno{
		Code:      MakeCode(ServiceCommon, CategoryRequest, 1),
		HTTP:      http.StatusBadRequest,
		MessageEN: "Invalid parameter",
		MessageZH: "参数无效",
	})

	// ErrValidation indicates a rejected document or query payload.
	ErrValidation = Register(&Errno{
		Code:      MakeCode(ServiceCommon, CategoryRequest, 2),
		HTTP:      http.StatusBadRequest,
		MessageEN: "Validation failed",
		MessageZH: "验证失败",
	})

	// ErrEmbeddingDimension indicates an embedding dimension mismatch.
	ErrEmbeddingDimension = Register(&Errno{
		Code:      MakeCode(ServiceIngestion, CategoryRequest, 0),
		HTTP:      http.StatusBadRequest,
		MessageEN: "Embedding dimension mismatch",
		MessageZH: "向量维度不匹配",
	})
)

// ============================================================================
// Not Found Errors (Category: 04)
// ============================================================================

var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = Register(&Errno{
		Code:      MakeCode(ServiceCommon, CategoryNotFound, 0),
		HTTP:      http.StatusNotFound,
		MessageEN: "Resource not found",
		MessageZH: "资源不存在",
	})

	// ErrSessionNotFound indicates the session does not exist or has expired.
	ErrSessionNotFound = Register(&Errno{
		Code:      MakeCode(ServiceSession, CategoryNotFound, 0),
		HTTP:      http.StatusNotFound,
		MessageEN: "Session not found",
		MessageZH: "会话不存在",
	})
)

// ============================================================================
// Overload Errors (Category: 06)
// ============================================================================

var (
	// ErrOverloaded indicates the service is shedding load.
	ErrOverloaded = Register(&Errno{
		Code:      MakeCode(ServiceCommon, CategoryRateLimit, 0),
		HTTP:      http.StatusTooManyRequests,
		MessageEN: "Service overloaded, please retry later",
		MessageZH: "服务过载，请稍后重试",
	})
)

// ============================================================================
// Internal Errors (Category: 07)
// ============================================================================

var (
	// ErrInternal indicates an unexpected internal error.
	ErrInternal = Register(&Errno{
		Code:      MakeCode(ServiceCommon, CategoryInternal, 0),
		HTTP:      http.StatusInternalServerError,
		MessageEN: "Internal server error",
		MessageZH: "内部服务器错误",
	})
)

// ============================================================================
// Unavailable Errors (Category: 10)
// ============================================================================

var (
	// ErrEmbeddingUnavailable indicates the embedding backend failed after retries.
	ErrEmbeddingUnavailable = Register(&Errno{
		Code:      MakeCode(ServiceIngestion, CategoryUnavailable, 0),
		HTTP:      http.StatusServiceUnavailable,
		MessageEN: "Embedding service unavailable",
		MessageZH: "向量化服务不可用",
	})

	// ErrIndexUnavailable indicates a write to the paired indexes failed after retries.
	ErrIndexUnavailable = Register(&Errno{
		Code:      MakeCode(ServiceIngestion, CategoryUnavailable, 1),
		HTTP:      http.StatusServiceUnavailable,
		MessageEN: "Index storage unavailable",
		MessageZH: "索引存储不可用",
	})

	// ErrRetrievalUnavailable indicates both retrieval legs failed.
	ErrRetrievalUnavailable = Register(&Errno{
		Code:      MakeCode(ServiceRetrieval, CategoryUnavailable, 0),
		HTTP:      http.StatusServiceUnavailable,
		MessageEN: "Retrieval unavailable",
		MessageZH: "检索服务不可用",
	})

	// ErrGenerationUnavailable indicates the generation backend failed after retries.
	ErrGenerationUnavailable = Register(&Errno{
		Code:      MakeCode(ServiceGeneration, CategoryUnavailable, 0),
		HTTP:      http.StatusServiceUnavailable,
		MessageEN: "Generation service unavailable",
		MessageZH: "生成服务不可用",
	})

	// ErrSessionUnavailable indicates the session store is unreachable.
	ErrSessionUnavailable = Register(&Errno{
		Code:      MakeCode(ServiceSession, CategoryUnavailable, 0),
		HTTP:      http.StatusServiceUnavailable,
		MessageEN: "Session store unavailable",
		MessageZH: "会话存储不可用",
	})
)

// ============================================================================
// Timeout Errors (Category: 11)
// ============================================================================

var (
	// ErrTimeout indicates the operation exceeded its deadline or was cancelled.
	ErrTimeout = Register(&Errno{
		Code:      MakeCode(ServiceCommon, CategoryTimeout, 0),
		HTTP:      http.StatusGatewayTimeout,
		MessageEN: "Operation timed out",
		MessageZH: "操作超时",
	})
)

// retryablePatterns are substrings of transient transport failures.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"timeout",
	"temporarily unavailable",
	"too many requests",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
	"eof",
}

// IsRetryable reports whether the error looks like a transient failure
// worth retrying with backoff. Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if e, ok := err.(*Errno); ok {
		switch e.Code {
		case ErrOverloaded.Code:
			return true
		}
		if e.cause != nil {
			return IsRetryable(e.cause)
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
