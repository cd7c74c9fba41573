package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_HasNoCause(t *testing.T) {
	err := New(KindValidation, "bad input")
	assert.Equal(t, "validation: bad input", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrap_IncludesCauseInErrorStringButNotMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindDependencyUnavailable, "could not reach chain node", cause)
	assert.Equal(t, "dependency_unavailable: could not reach chain node: connection refused", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestIs_MatchesWrappedKind(t *testing.T) {
	err := New(KindNotFound, "asset not found")
	var wrapped error = err
	assert.True(t, Is(wrapped, KindNotFound))
	assert.False(t, Is(wrapped, KindConflict))
}

func TestIs_FalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindInternal))
}

func TestIs_SeesThroughFmtErrorfWrapping(t *testing.T) {
	err := New(KindConflict, "version mismatch")
	wrapped := fmt.Errorf("lookup failed: %w", err)
	assert.True(t, Is(wrapped, KindConflict))
}

func TestKindOf_ExtractsKind(t *testing.T) {
	assert.Equal(t, KindRateLimited, KindOf(New(KindRateLimited, "too many requests")))
}

func TestKindOf_DefaultsToInternalForUnknownErrors(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestErrorsAs_ExtractsConcreteType(t *testing.T) {
	cause := errors.New("root cause")
	var target *Error
	ok := errors.As(Wrap(KindIntegrityFailure, "cid mismatch", cause), &target)
	assert.True(t, ok)
	assert.Equal(t, KindIntegrityFailure, target.Kind)
	assert.Equal(t, cause, target.Cause)
}
