package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"edu-billing/internal/domain"
	"edu-billing/internal/domain/model"
)

// errorEnvelope covers the two error shapes the providers use:
// flat {"errorCode","errorMessage"} and nested {"error":{"code","message"}}.
type errorEnvelope struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Error        *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// normalizeError reduces a non-2xx provider response to *domain.GatewayError.
// The raw body is for the caller to log; only code/details survive on the error.
func normalizeError(gw model.Gateway, httpStatus int, body []byte) error {
	var env errorEnvelope
	code := fmt.Sprintf("http_%d", httpStatus)
	details := http.StatusText(httpStatus)
	if err := json.Unmarshal(body, &env); err == nil {
		switch {
		case env.ErrorCode != "":
			code, details = env.ErrorCode, env.ErrorMessage
		case env.Error != nil && env.Error.Code != "":
			code, details = env.Error.Code, env.Error.Message
		}
	}
	return &domain.GatewayError{
		Gateway:    string(gw),
		Code:       code,
		Details:    details,
		HTTPStatus: httpStatus,
	}
}

// unsupported marks an operation a provider simply does not offer.
func unsupported(gw model.Gateway, op string) error {
	return &domain.GatewayError{
		Gateway:    string(gw),
		Code:       "unsupported_operation",
		Details:    op + " is not offered by this provider",
		HTTPStatus: http.StatusNotImplemented,
	}
}
