package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/openclaw/visitor-analytics-go/internal/errors"
	"github.com/openclaw/visitor-analytics-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// decodeJSON reads a JSON body into dest, turning decoder failures into
// client errors that name the offending field when possible.
func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return apperrors.ValidationError("Request body is required")
	}

	err := json.NewDecoder(r.Body).Decode(dest)
	if err == nil {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return apperrors.InvalidInput(typeErr.Field, fmt.Sprintf("unexpected %s", typeErr.Value))
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return apperrors.PayloadTooLarge()
	}

	return apperrors.ValidationError("Invalid request body")
}
