package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	base := errors.New("connection reset")
	wrapped := Wrap(base, CodeInternal, "failed to load stage")
	outer := fmt.Errorf("act: %w", Wrap(wrapped, CodeConflict, "retry exhausted"))

	assert.True(t, HasCode(outer, CodeConflict))
	assert.True(t, HasCode(outer, CodeInternal))
	assert.False(t, HasCode(outer, CodeNotFound))
	assert.False(t, HasCode(base, CodeInternal))
	assert.False(t, HasCode(nil, CodeInternal))
	assert.ErrorIs(t, outer, base)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeTenantIsolation, CodeOf(New(CodeTenantIsolation, "cross-tenant access")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, "stage not found", MessageOf(fmt.Errorf("x: %w", New(CodeNotFound, "stage not found"))))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:      http.StatusBadRequest,
		CodeStateConflict:   http.StatusBadRequest,
		CodeNotFound:        http.StatusNotFound,
		CodeTenantIsolation: http.StatusForbidden,
		CodeForbidden:       http.StatusForbidden,
		CodeUnauthorized:    http.StatusUnauthorized,
		CodeConflict:        http.StatusConflict,
		CodeInternal:        http.StatusInternalServerError,
		Code("unknown"):     http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "workflow not found", New(CodeNotFound, "workflow not found").Error())
	assert.Equal(t, "persist stage: deadlock", Wrap(errors.New("deadlock"), CodeInternal, "persist stage").Error())
}
