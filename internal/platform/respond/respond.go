// Package respond provides the success-envelope helpers every handler uses.
// Failure envelopes are produced by the central error handler in apperr.
package respond

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// OK writes a 200 envelope with the given payload.
func OK(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

// Created writes a 201 envelope with the given payload.
func Created(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusCreated, envelope{Success: true, Data: data})
}

// Message writes a 200 envelope with only a message.
func Message(c echo.Context, message string) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Message: message})
}

// Raw writes a 200 response whose top-level fields come from the payload
// itself, with success injected. Used by endpoints whose response shape
// predates the data envelope.
func Raw(c echo.Context, payload map[string]interface{}) error {
	out := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["success"] = true
	return c.JSON(http.StatusOK, out)
}
