package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/layered-backend/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondServiceError maps an *apierr.Error to its status and code. Anything
// else is a 500 with fallbackCode and a generic message.
func RespondServiceError(c *gin.Context, fallbackCode string, err error) {
	if ae, ok := apierr.As(err); ok {
		RespondError(c, ae.Status, ae.Code, ae.Err)
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, ErrorEnvelope{
		Error: APIError{Message: "internal error", Code: fallbackCode},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
