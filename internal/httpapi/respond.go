package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/yanizio/schoolarchive/internal/apperror"
	"github.com/yanizio/schoolarchive/internal/logger"
)

// maxBody caps request bodies; 500 ids plus a reason fit easily.
const maxBody = 1 << 20

type errorBody struct {
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Fields  []apperror.FieldError `json:"fields,omitempty"`
}

type errorEnvelope struct {
	Error  errorBody `json:"error"`
	Result any       `json:"result,omitempty"`
}

// decode reads one JSON object into dst.  Malformed input is a
// ValidationError so it maps to 400 like any other bad field.
func decode(r *http.Request, w http.ResponseWriter, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.Invalid("body", "is required")
		}
		return apperror.Invalid("body", err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

// writeError maps err through apperror and logs server-side failures.
// partial, when non-nil, is included so callers still see per-id outcomes.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error, partial any) {
	status := apperror.Status(err)
	body := errorBody{Code: apperror.Code(err), Message: err.Error()}

	var ve *apperror.ValidationError
	if errors.As(err, &ve) {
		body.Fields = ve.Fields
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context(), a.log).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		body.Message = http.StatusText(status)
	}
	writeJSON(w, status, errorEnvelope{Error: body, Result: partial})
}
