package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/drallgood/weread-shelf-sync/internal/library"
	"github.com/drallgood/weread-shelf-sync/internal/logger"
	"github.com/drallgood/weread-shelf-sync/internal/weread"
)

// Error codes carried in APIResponse.Error.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeLoginExpired     = "LOGIN_EXPIRED"
	CodeLoginRejected    = "LOGIN_REJECTED"
	CodeRefreshRunning   = "REFRESH_IN_PROGRESS"
	CodeUpstreamFailure  = "UPSTREAM_FAILURE"
	CodeInternal         = "INTERNAL_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success       bool        `json:"success"`
	Message       string      `json:"message,omitempty"`
	Data          interface{} `json:"data,omitempty"`
	Error         string      `json:"error,omitempty"`
	RequiresLogin bool        `json:"requires_login,omitempty"`
}

func writeJSONResponse(ctx context.Context, w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.FromContext(ctx).Error("Failed to encode JSON response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func writeSuccessResponse(ctx context.Context, w http.ResponseWriter, message string, data interface{}) {
	writeJSONResponse(ctx, w, http.StatusOK, APIResponse{Success: true, Message: message, Data: data})
}

// writeErrorResponse maps err onto a status code and error code.
func writeErrorResponse(ctx context.Context, w http.ResponseWriter, err error) {
	status, resp := classify(err)
	log := logger.FromContext(ctx)
	fields := map[string]interface{}{"status": status, "code": resp.Error, "error": err.Error()}
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", fields)
	} else {
		log.Debug("Request rejected", fields)
	}
	writeJSONResponse(ctx, w, status, resp)
}

func classify(err error) (int, APIResponse) {
	var (
		formatErr   *weread.FormatError
		rejected    *library.LoginRejectedError
		invalid     *library.ValidationError
		aggregate   *weread.AggregateFailure
		transport   *weread.TransportError
		status      *weread.StatusError
		parse       *weread.ParseError
		unavailable *weread.UnavailableError
	)
	switch {
	case errors.As(err, &formatErr):
		return http.StatusBadRequest, APIResponse{Message: "Cookie格式错误: " + formatErr.Error(), Error: CodeInvalidRequest}
	case errors.As(err, &invalid):
		return http.StatusBadRequest, APIResponse{Message: invalid.Error(), Error: CodeInvalidRequest}
	case errors.As(err, &rejected):
		return http.StatusUnauthorized, APIResponse{Message: rejected.Message, Error: CodeLoginRejected, RequiresLogin: true}
	case weread.IsAuthError(err):
		return http.StatusUnauthorized, APIResponse{Message: "登录已过期，请重新登录", Error: CodeLoginExpired, RequiresLogin: true}
	case errors.Is(err, library.ErrRefreshInProgress):
		return http.StatusConflict, APIResponse{Message: err.Error(), Error: CodeRefreshRunning}
	case errors.As(err, &aggregate), errors.As(err, &transport), errors.As(err, &status),
		errors.As(err, &parse), errors.As(err, &unavailable):
		return http.StatusBadGateway, APIResponse{Message: weread.UserMessage(err), Error: CodeUpstreamFailure}
	}
	return http.StatusInternalServerError, APIResponse{Message: "internal server error", Error: CodeInternal}
}
