package middleware

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/services"
	"cinewave/pkg/circuitbreaker"
	"cinewave/pkg/errors"
)

// FromDomain maps core errors onto their HTTP representation. Errors that
// are already AppErrors pass through.
func FromDomain(err error) *errors.AppError {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}

	var limitErr *domain.StreamLimitError
	switch {
	case stderrors.As(err, &limitErr):
		return errors.NewStreamLimitError(limitErr.MaxStreams).WithCause(err)
	case stderrors.Is(err, domain.ErrRoomNotFound):
		return errors.NewNotFoundError("room").WithCause(err)
	case stderrors.Is(err, domain.ErrUserNotFound):
		return errors.NewNotFoundError("user").WithCause(err)
	case stderrors.Is(err, domain.ErrNotHost), stderrors.Is(err, domain.ErrNotRoomMember):
		return errors.NewForbiddenError(err.Error()).WithCause(err)
	case stderrors.Is(err, domain.ErrInvalidPlaybackTime):
		return errors.NewInvalidInputError(err.Error()).WithCause(err)
	case stderrors.Is(err, domain.ErrInviteCodeTaken):
		return errors.NewConflictError("could not allocate an invite code").WithCause(err)
	case stderrors.Is(err, domain.ErrStreamLimitReached):
		return errors.WrapError(err, errors.ErrCodeStreamLimitReached, errors.StreamLimitMessage, http.StatusTooManyRequests)
	case stderrors.Is(err, domain.ErrLeaseNotFound):
		return errors.NewSessionExpiredError().WithCause(err)
	case stderrors.Is(err, services.ErrInvalidToken), stderrors.Is(err, services.ErrExpiredToken):
		return errors.NewUnauthorizedError(err.Error()).WithCause(err)
	case stderrors.Is(err, circuitbreaker.ErrOpen):
		return errors.NewServiceUnavailableError("stream admission temporarily unavailable").WithCause(err)
	default:
		return errors.NewInternalError("Internal server error").WithCause(err)
	}
}

// ErrorHandlerMiddleware renders the last error attached with c.Error.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := FromDomain(c.Errors.Last().Err)
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("Request failed",
				"code", appErr.Code,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"error", appErr.Cause,
			)
		} else {
			logger.Debugw("Request rejected",
				"code", appErr.Code,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
			)
		}
		writeError(c, appErr)
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("Panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				abortWithError(c, errors.NewInternalError("Internal server error"))
			}
		}()

		c.Next()
	}
}

func writeError(c *gin.Context, appErr *errors.AppError) {
	body := gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	}
	if len(appErr.Context) > 0 {
		body["details"] = appErr.Context
	}
	c.JSON(appErr.HTTPStatus, body)
}

func abortWithError(c *gin.Context, appErr *errors.AppError) {
	writeError(c, appErr)
	c.Abort()
}
