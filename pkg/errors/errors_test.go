package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	detailed := ErrJobNotFound.WithDetail("job-1")
	require.Equal(t, "job-1", detailed.Detail)
	require.Empty(t, ErrJobNotFound.Detail)
	require.ErrorIs(t, detailed, ErrJobNotFound)
}

func TestHTTPStatusMapping(t *testing.T) {
	require.Equal(t, http.StatusNotFound, ErrJobNotFound.HTTPStatus)
	require.Equal(t, http.StatusConflict, ErrInvalidTransition.HTTPStatus)
	require.Equal(t, http.StatusConflict, ErrJobAlreadyDone.HTTPStatus)
	require.Equal(t, http.StatusBadRequest, ErrChunkingFailed.HTTPStatus)
	require.Equal(t, http.StatusBadRequest, ErrInvalidParam.HTTPStatus)
	require.Equal(t, http.StatusInternalServerError, New(CodeDatabaseError, "db").HTTPStatus)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := Wrap(cause, CodeDatabaseError, "query failed")
	require.ErrorIs(t, wrapped, cause)
	require.Contains(t, wrapped.Error(), "query failed")
}

func TestAsAppErrorFallback(t *testing.T) {
	appErr := AsAppError(errors.New("plain"))
	require.Equal(t, CodeUnknown, appErr.Code)

	same := AsAppError(ErrJobNotFound)
	require.Equal(t, CodeJobNotFound, same.Code)
}
