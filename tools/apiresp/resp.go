package apiresp

import (
	"net/http"

	"PPresence/logger"
	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ApiResponse struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
	Data   any    `json:"data,omitempty"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, ApiResponse{Code: 0, Msg: "ok", Data: data})
}

// Fail writes err with the HTTP status matching its code.
func Fail(c *gin.Context, err error) {
	ce, ok := errs.AsCode(err)
	if !ok {
		logger.Error("unhandled api error", zap.String("path", c.FullPath()), zap.Error(err))
		ce = errs.ErrInternalServer
	}
	c.AbortWithStatusJSON(HTTPStatus(ce.Code), ApiResponse{Code: ce.Code, Msg: ce.Msg, Detail: ce.Detail})
}

func HTTPStatus(code int) int {
	switch {
	case code == errs.ArgsError:
		return http.StatusBadRequest
	case code == errs.RecordNotFoundError:
		return http.StatusNotFound
	case code == errs.NoPermissionError:
		return http.StatusForbidden
	case code == errs.UserLockedError:
		return http.StatusLocked
	case code == errs.DuplicateKeyError:
		return http.StatusConflict
	case code >= errs.TokenExpiredError && code <= errs.TokenMissingError:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
