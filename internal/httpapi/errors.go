package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/codconfirm/internal/domain"
)

// ErrorResponse описывает тело ответа с ошибкой.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// statusFor сопоставляет доменную ошибку HTTP-статусу.
func statusFor(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c echo.Context, err error) error {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Path()).Error("request failed")
		message = http.StatusText(code)
	}
	return c.JSON(code, ErrorResponse{Code: code, Message: message})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Code: http.StatusBadRequest, Message: message})
}
