package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	ragerrors "github.com/Aman-CERP/gitingest/internal/errors"
)

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch ragerrors.GetCode(err) {
	case ragerrors.ErrCodeModelUnavailable, ragerrors.ErrCodeNetworkTimeout, ragerrors.ErrCodeNetworkUnavailable:
		return http.StatusServiceUnavailable
	case ragerrors.ErrCodeDimensionMismatch, ragerrors.ErrCodeStoreLocked:
		return http.StatusConflict
	}

	switch ragerrors.GetCategory(err) {
	case ragerrors.CategoryValidation, ragerrors.CategoryConfig:
		return http.StatusBadRequest
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	resp := errorResponse{Error: "internal", Message: err.Error()}
	if re, ok := ragerrors.As(err); ok {
		resp.Error = re.Code
		resp.Message = re.Message
		resp.Details = re.Details
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request_failed",
			slog.String("request_id", RequestIDFrom(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}

	writeJSON(w, status, resp)
}

// validationError turns validator output into a RAGError with one detail
// per failing field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ragerrors.ValidationError("invalid request", err)
	}

	re := ragerrors.ValidationError("validation failed", err)
	for _, fe := range verrs {
		re.WithDetail(fe.Field(), fieldMessage(fe))
	}
	return re
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_without":
		return fmt.Sprintf("%s is required when %s is missing", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "excludesall":
		return fmt.Sprintf("%s must not contain %q", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed on the '%s' tag", field, fe.Tag())
	}
}
