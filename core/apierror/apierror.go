/*Package apierror provides the closed error taxonomy of the backend.

Store and token failures are converted into one of the variants below
exactly once, at the boundary where they occur. Handlers only ever look at
the variant, never at driver-specific error codes. Clients receive the
generic message and status; the underlying cause stays in the server log.
*/
package apierror

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Kind enumerates the error variants.
type Kind int

// The closed set of error variants.
const (
	KindValidation Kind = iota + 1
	KindAuthentication
	KindNotFound
	KindConflict
	KindMethodNotAllowed
	KindInternal
)

// Error is a tagged error with a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	// Allow lists the supported methods for KindMethodNotAllowed.
	Allow []string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	}
	return http.StatusInternalServerError
}

// Validation reports a missing or malformed request field.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Authentication reports a missing, invalid or expired credential. The
// message must never reveal which factor failed.
func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message}
}

// NotFound reports an update or delete that affected no rows.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a unique constraint violation.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// MethodNotAllowed reports an unsupported method on a known route.
func MethodNotAllowed(allow ...string) *Error {
	return &Error{
		Kind:    KindMethodNotAllowed,
		Message: "method not allowed",
		Allow:   allow,
	}
}

// Internal wraps an unexpected failure. The cause is logged, not echoed.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, cause: cause}
}

// postgres error classes, see the lib/pq error code table
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// FromDB converts a store error into the taxonomy. conflictMessage is the
// client message used for unique violations of the entity at hand.
// A nil error stays nil.
func FromDB(err error, conflictMessage string) error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound("record does not exist")
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			if conflictMessage == "" {
				conflictMessage = "record already exists"
			}
			return Conflict(conflictMessage)
		case pqForeignKeyViolation:
			return Validation("referenced record does not exist")
		}
	}
	return Internal("database operation failed", err)
}

// Write sends the error to the client as {"error": message} with the
// variant's status code. Internal causes are logged with rlog only.
func Write(w http.ResponseWriter, rlog *logrus.Entry, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal("internal server error", err)
	}
	if apiErr.Kind == KindInternal && rlog != nil {
		rlog.WithError(apiErr.cause).Error(apiErr.Message)
	}
	if apiErr.Kind == KindMethodNotAllowed && len(apiErr.Allow) > 0 {
		w.Header().Set("Allow", strings.Join(apiErr.Allow, ", "))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(apiErr.Status())
	jsonData, _ := json.Marshal(map[string]string{"error": apiErr.Message})
	w.Write(jsonData)
}
