package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pkfitzVT/event-stock-response/pkg/eventstudy"
)

// Response represents a successful API response with unified format.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse represents an error API response. Data carries the wizard
// step view when a step was refused.
type ErrorResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type errorMessageSetter interface {
	SetErrorMessage(string)
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Code: 0, Data: data})
}

func writeSuccessWithMessage(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, Response{Code: 0, Message: message, Data: data})
}

// writeErrorResponse writes err using its error code to pick the status.
// Plain errors use fallbackStatus.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, fallbackStatus int, err error) {
	status := fallbackStatus
	response := ErrorResponse{Message: err.Error()}

	var esErr *eventstudy.Error
	if errors.As(err, &esErr) {
		status = mapErrorCodeToHTTPStatus(esErr.Code)
		response.ErrorCode = string(esErr.Code)
		response.Message = esErr.Message
	}
	writeError(w, r, status, response)
}

// writeStepError reports a refused wizard step with its view attached.
func writeStepError(w http.ResponseWriter, r *http.Request, res eventstudy.StepResult) {
	writeError(w, r, mapErrorCodeToHTTPStatus(res.ErrorCode), ErrorResponse{
		Message:   res.Error,
		ErrorCode: string(res.ErrorCode),
		Data:      res,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, response ErrorResponse) {
	response.Code = status
	if r != nil {
		response.RequestID = middleware.GetReqID(r.Context())
	}
	if setter, ok := w.(errorMessageSetter); ok {
		setter.SetErrorMessage(response.Message)
	}
	writeJSON(w, status, response)
}

// mapErrorCodeToHTTPStatus maps business error codes to HTTP status codes.
func mapErrorCodeToHTTPStatus(code eventstudy.ErrorCode) int {
	switch code {
	case eventstudy.ErrCodeInvalidInput, eventstudy.ErrCodeValidation:
		return http.StatusBadRequest
	case eventstudy.ErrCodeNotFound:
		return http.StatusNotFound
	case eventstudy.ErrCodeConflict:
		return http.StatusConflict
	case eventstudy.ErrCodeNoData:
		return http.StatusUnprocessableEntity
	case eventstudy.ErrCodeUpstream:
		return http.StatusBadGateway
	case eventstudy.ErrCodeDatabase, eventstudy.ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
