package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrnoWithCausePreservesCode(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := ErrRetrievalUnavailable.WithCause(cause)

	assert.Equal(t, ErrRetrievalUnavailable.Code, err.Code)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus())
	assert.ErrorIs(t, err, cause)

	// 原始错误不被修改
	assert.Nil(t, ErrRetrievalUnavailable.Unwrap())
}

func TestErrnoWithMessage(t *testing.T) {
	err := ErrValidation.WithMessage("document id is empty")
	assert.Equal(t, ErrValidation.Code, err.Code)
	assert.Contains(t, err.Error(), "document id is empty")

	errf := ErrValidation.WithMessagef("unsupported language: %s", "fr")
	assert.Contains(t, errf.Error(), "unsupported language: fr")
}

func TestIsCode(t *testing.T) {
	err := ErrTimeout.WithCause(context.DeadlineExceeded)
	assert.True(t, IsCode(err, ErrTimeout.Code))
	assert.False(t, IsCode(err, ErrValidation.Code))

	wrapped := fmt.Errorf("answer query: %w", err)
	assert.True(t, IsCode(wrapped, ErrTimeout.Code))
}

func TestFromError(t *testing.T) {
	errno := FromError(ErrOverloaded)
	require.NotNil(t, errno)
	assert.Equal(t, ErrOverloaded.Code, errno.Code)

	// 未知错误归为内部错误
	unknown := FromError(errors.New("boom"))
	require.NotNil(t, unknown)
	assert.Equal(t, ErrInternal.Code, unknown.Code)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil 不可重试", nil, false},
		{"连接拒绝可重试", errors.New("dial tcp: connection refused"), true},
		{"超时字样可重试", errors.New("request timeout"), true},
		{"上游 503 可重试", errors.New("ollama api error: status 503"), true},
		{"过载可重试", ErrOverloaded, true},
		{"验证错误不可重试", ErrValidation, false},
		{"上下文取消不可重试", context.Canceled, false},
		{"截止时间不可重试", context.DeadlineExceeded, false},
		{"包装的瞬态错误可重试", ErrEmbeddingUnavailable.WithCause(errors.New("connection reset by peer")), true},
		{"包装的永久错误不可重试", ErrEmbeddingUnavailable.WithCause(errors.New("model not found")), false},
		{"普通错误不可重试", errors.New("invalid schema"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
