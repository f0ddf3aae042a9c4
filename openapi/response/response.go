package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HTTP status codes used by the admin API.
const (
	StatusOK                  = http.StatusOK
	StatusAccepted            = http.StatusAccepted
	StatusBadRequest          = http.StatusBadRequest
	StatusNotFound            = http.StatusNotFound
	StatusInternalServerError = http.StatusInternalServerError
	StatusServiceUnavailable  = http.StatusServiceUnavailable
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code             string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorDescription == "" {
		return e.Code
	}
	return e.Code + ": " + e.ErrorDescription
}

// Standard errors.
var (
	ErrInvalidRequest = &ErrorResponse{
		Code:             "invalid_request",
		ErrorDescription: "The request is missing a required parameter or is malformed",
	}
	ErrNotFound = &ErrorResponse{
		Code:             "not_found",
		ErrorDescription: "The requested resource does not exist",
	}
	ErrServerError = &ErrorResponse{
		Code:             "server_error",
		ErrorDescription: "The server encountered an unexpected condition",
	}
	ErrTemporarilyUnavailable = &ErrorResponse{
		Code:             "temporarily_unavailable",
		ErrorDescription: "The service is not configured or is shutting down",
	}
)

// RespondWithSuccess writes data as JSON.
func RespondWithSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// RespondWithError writes err as JSON and aborts the handler chain.
func RespondWithError(c *gin.Context, status int, err *ErrorResponse) {
	c.AbortWithStatusJSON(status, err)
}
