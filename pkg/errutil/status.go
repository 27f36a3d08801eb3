package errutil

import "net/http"

// CoreStatus is a transport-independent error classification. Handlers
// translate it to an HTTP status at the boundary.
type CoreStatus string

const (
	StatusBadRequest          CoreStatus = "bad_request"
	StatusValidationFailed    CoreStatus = "validation_failed"
	StatusUnauthorized        CoreStatus = "unauthorized"
	StatusForbidden           CoreStatus = "forbidden"
	StatusNotFound            CoreStatus = "not_found"
	StatusConflict            CoreStatus = "conflict"
	StatusUnprocessableEntity CoreStatus = "unprocessable_entity"
	StatusTooManyRequests     CoreStatus = "too_many_requests"
	StatusTimeout             CoreStatus = "timeout"
	StatusInternal            CoreStatus = "internal"
	StatusNotImplemented      CoreStatus = "not_implemented"
	StatusBadGateway          CoreStatus = "bad_gateway"
	StatusUnavailable         CoreStatus = "unavailable"
	StatusUnknown             CoreStatus = "unknown"
)

// HTTPStatus maps the CoreStatus to its closest HTTP status code equivalent.
func (s CoreStatus) HTTPStatus() int {
	switch s {
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusForbidden:
		return http.StatusForbidden
	case StatusNotFound:
		return http.StatusNotFound
	case StatusConflict:
		return http.StatusConflict
	case StatusUnprocessableEntity:
		return http.StatusUnprocessableEntity
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	case StatusTimeout:
		return http.StatusGatewayTimeout
	case StatusNotImplemented:
		return http.StatusNotImplemented
	case StatusBadGateway:
		return http.StatusBadGateway
	case StatusUnavailable:
		return http.StatusServiceUnavailable
	case StatusInternal, StatusUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
