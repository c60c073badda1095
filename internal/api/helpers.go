package api

import (
	"encoding"
	"errors"
	"io"
	"net/http"
	"slices"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/samcharles93/cutotune/pkg/cutotune"
)

const headerRequestID = "X-Request-Id"

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(c *echo.Context, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res.WriteHeader(status)
	_, err = res.Write(b)
	return err
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return writeJSON(c, status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeTuneError maps engine errors onto HTTP statuses.
func writeTuneError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return writeBadRequest(c, err.Error())
	case errors.Is(err, ErrNotFound):
		return writeNotFound(c, err.Error())
	case errors.Is(err, cutotune.ErrOverrideProtocol):
		return writeError(c, http.StatusConflict, "override_error", err.Error(), "", "override_protocol")
	case errors.Is(err, cutotune.ErrNoApplicableConfiguration):
		return writeError(c, http.StatusUnprocessableEntity, "tuning_error", err.Error(), "", "no_applicable_configuration")
	case errors.Is(err, cutotune.ErrCachePersistence):
		return writeError(c, http.StatusInternalServerError, "cache_error", err.Error(), "", "cache_persistence")
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
}

// requestID tags every response with a fresh X-Request-Id.
func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		c.Response().Header().Set(headerRequestID, uuid.NewString())
		return next(c)
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func configValues(cfg cutotune.Config) map[string]any {
	out := cfg.Values()
	for name, v := range out {
		if m, ok := v.(encoding.TextMarshaler); ok {
			if text, err := m.MarshalText(); err == nil {
				out[name] = string(text)
			}
		}
	}
	return out
}

func trialResp(t cutotune.Trial) TrialResp {
	return TrialResp{
		Config:      configValues(t.Config),
		TimeSeconds: t.Time.Seconds(),
		Time:        t.Time.String(),
	}
}

func sortedKeys[V any](m map[cutotune.Key]V) []cutotune.Key {
	keys := make([]cutotune.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
