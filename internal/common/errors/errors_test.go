package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NotFound("session %s", "abc")
	assert.Equal(t, "NOT_FOUND: session abc", err.Error())

	wrapped := Internal(stderrors.New("boom"), "query failed")
	assert.Equal(t, "INTERNAL: query failed: boom", wrapped.Error())
}

func TestWireMessageTruncates(t *testing.T) {
	long := strings.Repeat("x", 500)
	err := BadRequest("%s", long)
	assert.Len(t, err.WireMessage(), 200)
}

func TestWireMessageOmitsCause(t *testing.T) {
	err := Internal(stderrors.New("password=hunter2"), "lookup failed")
	assert.Equal(t, "lookup failed", err.WireMessage())
}

func TestWrapPreservesCode(t *testing.T) {
	inner := NotFound("task missing")
	outer := Wrap(fmt.Errorf("loading: %w", inner), "scheduler boot")

	assert.Equal(t, CodeNotFound, outer.Code)
	assert.Equal(t, http.StatusNotFound, outer.HTTPStatus)
	assert.Contains(t, outer.Message, "scheduler boot")
	assert.Contains(t, outer.Message, "task missing")
}

func TestWrapPlainError(t *testing.T) {
	outer := Wrap(stderrors.New("boom"), "doing thing")
	assert.Equal(t, CodeInternal, outer.Code)
	assert.Equal(t, http.StatusInternalServerError, outer.HTTPStatus)
}

func TestGetHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, GetHTTPStatus(NotFound("x")))
	assert.Equal(t, http.StatusBadRequest, GetHTTPStatus(Validation("x")))
	assert.Equal(t, http.StatusUnauthorized, GetHTTPStatus(Unauthorized("x")))
	assert.Equal(t, http.StatusServiceUnavailable, GetHTTPStatus(ServiceUnavailable("x")))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(stderrors.New("plain")))
}

func TestGetHTTPStatusUnwraps(t *testing.T) {
	err := fmt.Errorf("outer: %w", Conflict("duplicate"))
	assert.Equal(t, http.StatusConflict, GetHTTPStatus(err))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NotFound("x")))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", NotFound("x"))))
	assert.False(t, IsNotFound(BadRequest("x")))
	assert.False(t, IsNotFound(stderrors.New("plain")))
}
