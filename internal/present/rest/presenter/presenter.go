package presenter

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error string `json:"error"`
}

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func Created(c echo.Context, payload any) error {
	return c.JSON(http.StatusCreated, payload)
}

func BadRequest(c echo.Context, err error) error {
	log.Debug().Err(err).Str("path", c.Path()).Msg("bad request")
	return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func BadRequestMessage(c echo.Context, msg string) error {
	log.Debug().Str("path", c.Path()).Msg("bad request: " + msg)
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func NotFound(c echo.Context, msg string) error {
	log.Debug().Str("path", c.Path()).Msg("not found: " + msg)
	return c.JSON(http.StatusNotFound, errorResponse{Error: msg})
}

func Conflict(c echo.Context, err error) error {
	log.Warn().Err(err).Str("path", c.Path()).Msg("conflict")
	return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
}

func InternalError(c echo.Context, err error) error {
	log.Error().Err(err).Str("path", c.Path()).Msg("internal error")
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}
