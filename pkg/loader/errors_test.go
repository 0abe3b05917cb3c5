package loader

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", &LoadError{Source: "a.pdf", Kind: KindIO, Err: cause})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindIO, KindOf(err))
	assert.Contains(t, err.Error(), "a.pdf")
	assert.Equal(t, KindUnknown, KindOf(cause))
}

func TestClassifyTransport(t *testing.T) {
	tests := []struct {
		err  error
		want FailureKind
	}{
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("x509: certificate has expired"), KindTLS},
		{errors.New("read: connection reset by peer"), KindConnection},
		{errors.New("i/o timeout"), KindTimeout},
		{errors.New("something else"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, classifyTransport(tt.err))
		})
	}
}

func TestStatusKind(t *testing.T) {
	assert.Equal(t, KindForbidden, statusKind(403))
	assert.Equal(t, KindNotFound, statusKind(404))
	assert.Equal(t, KindHTTPStatus, statusKind(502))
}

func TestContentHashStable(t *testing.T) {
	assert.Equal(t, ContentHash("same"), ContentHash("same"))
	assert.NotEqual(t, ContentHash("same"), ContentHash("other"))
	assert.Len(t, ContentHash(""), 32)
}
