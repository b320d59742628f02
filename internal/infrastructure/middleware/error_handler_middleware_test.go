package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cinewave/internal/core/domain"
	"cinewave/pkg/circuitbreaker"
	apperrors "cinewave/pkg/errors"
)

func TestFromDomain(t *testing.T) {
	tests := []struct {
		err    error
		code   apperrors.ErrorCode
		status int
	}{
		{domain.ErrRoomNotFound, apperrors.ErrCodeNotFound, http.StatusNotFound},
		{fmt.Errorf("join room: %w", domain.ErrRoomNotFound), apperrors.ErrCodeNotFound, http.StatusNotFound},
		{domain.ErrStreamLimitReached, apperrors.ErrCodeStreamLimitReached, http.StatusTooManyRequests},
		{domain.ErrLeaseNotFound, apperrors.ErrCodeSessionExpired, http.StatusGone},
		{domain.ErrNotHost, apperrors.ErrCodeForbidden, http.StatusForbidden},
		{fmt.Errorf("sync: %w", domain.ErrNotRoomMember), apperrors.ErrCodeForbidden, http.StatusForbidden},
		{domain.ErrInviteCodeTaken, apperrors.ErrCodeConflict, http.StatusConflict},
		{domain.ErrInvalidPlaybackTime, apperrors.ErrCodeInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("acquire lease: %w", circuitbreaker.ErrOpen), apperrors.ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{apperrors.NewInvalidInputError("bad"), apperrors.ErrCodeInvalidInput, http.StatusBadRequest},
		{errors.New("boom"), apperrors.ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			appErr := FromDomain(tt.err)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.ErrorIs(t, appErr, tt.err)
		})
	}
	assert.Equal(t, apperrors.StreamLimitMessage, FromDomain(domain.ErrStreamLimitReached).Message)
	assert.Equal(t, "could not allocate an invite code", FromDomain(domain.ErrInviteCodeTaken).Message)

	limit := FromDomain(fmt.Errorf("start: %w", &domain.StreamLimitError{MaxStreams: 2}))
	assert.Equal(t, apperrors.ErrCodeStreamLimitReached, limit.Code)
	assert.Equal(t, 2, limit.Context["max_streams"])
}

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()), ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/limit", func(c *gin.Context) {
		_ = c.Error(apperrors.NewStreamLimitError(2))
	})
	router.GET("/internal", func(c *gin.Context) {
		_ = c.Error(errors.New("secret detail"))
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/limit", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "STREAM_LIMIT_REACHED", body["error"])
	assert.Equal(t, apperrors.StreamLimitMessage, body["message"])
	assert.Equal(t, map[string]any{"max_streams": float64(2)}, body["details"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret detail")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}
