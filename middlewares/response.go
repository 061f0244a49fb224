package middlewares

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ResponseWriter is what every AppHandler writes through; Logger is the request scoped entry.
type ResponseWriter struct {
	Writer http.ResponseWriter
	Logger *log.Entry
}

func NewResponseWriter(w http.ResponseWriter, logger *log.Entry) *ResponseWriter {
	return &ResponseWriter{
		Writer: w,
		Logger: logger,
	}
}

// authError is the body of 401 answers produced before a handler runs.
type authError struct {
	Error   string `json:"error"`
	Scope   string `json:"scope,omitempty"`
	Expired bool   `json:"expired,omitempty"`
}

type ErrOption func(*authError)

func WithErrorScope(scope string) ErrOption {
	return func(body *authError) {
		body.Scope = scope
	}
}

func WithTokenExpired() ErrOption {
	return func(body *authError) {
		body.Expired = true
	}
}

func (r *ResponseWriter) logger() *log.Entry {
	if r.Logger == nil {
		return log.NewEntry(log.StandardLogger())
	}
	return r.Logger
}

func (r *ResponseWriter) write(statusCode int, contentType string, body []byte) {
	r.Writer.Header().Set("Content-Type", contentType)
	r.Writer.WriteHeader(statusCode)
	if _, err := r.Writer.Write(body); err != nil {
		r.logger().WithField("error", err).Warn("could not write response")
	}
}

func (r *ResponseWriter) writeJSON(statusCode int, data interface{}) {
	b, err := json.Marshal(data)
	if err != nil {
		r.logger().WithField("error", err).Error("failed encoding response")
		r.Writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	r.write(statusCode, "application/json; charset=utf-8", b)
}

// WriteJSON writes data as plain JSON. Non 2xx answers without data get {"error": message}.
// 5xx answers log at error level, other failures at warn.
func (r *ResponseWriter) WriteJSON(statusCode int, data interface{}, err error, message string) {
	fields := log.Fields{"status_code": statusCode}
	switch {
	case statusCode < 300:
		r.logger().WithFields(fields).Info("success")
	default:
		if data == nil {
			data = map[string]interface{}{
				"error": message,
			}
		}
		if err == nil {
			err = errors.New(message)
		}
		fields["errors"] = data
		if statusCode >= 500 {
			r.logger().WithFields(fields).Error(err)
		} else {
			r.logger().WithFields(fields).Warn(err)
		}
	}
	r.writeJSON(statusCode, data)
}

func (r *ResponseWriter) String(code int, msg string) {
	r.write(code, "text/plain; charset=utf-8", []byte(msg))
}

// Error answers with a bare error body. It is used outside handlers, where no data exists.
func (r *ResponseWriter) Error(code int, msg string, opts ...ErrOption) {
	body := &authError{Error: msg}
	for _, With := range opts {
		With(body)
	}
	r.logger().WithFields(log.Fields{
		"status_code": code,
		"scope":       body.Scope,
	}).Warn(msg)
	r.writeJSON(code, body)
}
