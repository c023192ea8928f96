package httputil

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/joaopba/hcc-med-pay-flow-sub001/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithError sends an error response. Internal errors are reported
// without detail.
func RespondWithError(c *gin.Context, err error) {
	status, message := StatusAndMessage(err)
	c.JSON(status, Response{
		Success: false,
		Error:   message,
	})
}

// StatusAndMessage maps err onto the HTTP status and client-facing message.
func StatusAndMessage(err error) (int, string) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus()
		if status == http.StatusInternalServerError {
			return status, "Internal server error"
		}
		return status, appErr.Message
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, verrs.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}
