// Package request holds the HTTP response envelope shared by the directory
// controllers.
package request

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hetiansu5/urlquery"
)

// ErrorRequest error request
type ErrorRequest struct {
	Message      string          `json:"message,omitempty"`
	Code         int             `json:"code,omitempty"`
	Error        error           `json:"-"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

var (
	ErrorInformationAlreadyExists = ErrorRequest{"information already exists", http.StatusConflict, fmt.Errorf("information already exists"), "", nil}
	ErrorNotFound                 = ErrorRequest{"not found", http.StatusNotFound, fmt.Errorf("not found"), "", nil}
	ErrorStatusUnauthorized       = ErrorRequest{"not authorized", http.StatusUnauthorized, fmt.Errorf("not authorized"), "", nil}
	ErrorStatusForbidden          = ErrorRequest{"forbidden", http.StatusForbidden, fmt.Errorf("forbidden"), "", nil}
	ErrorInvalidParams            = ErrorRequest{"invalid params", http.StatusBadRequest, fmt.Errorf("invalid params"), "", nil}
	ErrorInternalServerError      = ErrorRequest{"internal error", http.StatusInternalServerError, fmt.Errorf("internal error"), "", nil}
	ErrorTooManyRequests          = ErrorRequest{"too many requests", http.StatusTooManyRequests, fmt.Errorf("too many requests"), "", nil}
	ErrorTimeout                  = ErrorRequest{"timeout", http.StatusRequestTimeout, fmt.Errorf("timeout"), "", nil}
)

// InternalError keeps err's message for diagnostics.
func InternalError(err error) *ErrorRequest {
	return &ErrorRequest{
		Message:      err.Error(),
		Code:         http.StatusInternalServerError,
		Error:        err,
		ErrorMessage: err.Error(),
	}
}

// InvalidParams is ErrorInvalidParams carrying err's message.
func InvalidParams(err error) *ErrorRequest {
	e := ErrorInvalidParams
	e.Error = err
	e.ErrorMessage = err.Error()
	return &e
}

// ToJSON error request
func (e ErrorRequest) ToJSON() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		panic(err)
	}
	return data
}

// Write sends e as the response body with e.Code as status.
func (e *ErrorRequest) Write(w http.ResponseWriter) {
	if e.Error != nil && e.ErrorMessage == "" {
		e.ErrorMessage = e.Error.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	_, _ = w.Write(e.ToJSON())
}

// OK writes result as a 200 JSON body.
func OK(w http.ResponseWriter, result interface{}) {
	JSON(w, http.StatusOK, result)
}

// JSON writes result with the given status.
func JSON(w http.ResponseWriter, code int, result interface{}) {
	payload, err := json.Marshal(result)
	if err != nil {
		InternalError(err).Write(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(payload)
}

// NoContent answers 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ParseData decodes the JSON body of r into v.
func ParseData(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("empty body")
	}
	return json.Unmarshal(data, v)
}

// ParseQuery decodes the query string of r into q.
func ParseQuery(r *http.Request, q interface{}) error {
	if r.URL.RawQuery != "" {
		return urlquery.Unmarshal([]byte(r.URL.RawQuery), q)
	}
	return nil
}
