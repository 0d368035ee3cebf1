// Package apperrors defines the error taxonomy shared by the REST API and
// the Signaling Hub, mapping each kind to an HTTP status and a WS error frame.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the handful of error categories the server produces.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindBadRequest   Kind = "bad_request"
	KindRoomFull     Kind = "room_full"
	KindStorage      Kind = "storage"
	KindMedia        Kind = "media"
	KindInternal     Kind = "internal"
)

// AppError is the single error type returned across package boundaries.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, err error) *AppError {
	return &AppError{Kind: kind, Message: msg, Err: err}
}

func NotFound(msg string) *AppError           { return newErr(KindNotFound, msg, nil) }
func Unauthorized(msg string) *AppError       { return newErr(KindUnauthorized, msg, nil) }
func BadRequest(msg string) *AppError         { return newErr(KindBadRequest, msg, nil) }
func RoomFull(msg string) *AppError           { return newErr(KindRoomFull, msg, nil) }
func Storage(msg string, err error) *AppError { return newErr(KindStorage, msg, err) }
func Media(msg string, err error) *AppError   { return newErr(KindMedia, msg, err) }
func Internal(msg string, err error) *AppError {
	return newErr(KindInternal, msg, err)
}

// As reports whether err (or something it wraps) is an *AppError, in the
// style of errors.As.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to the HTTP status code the REST layer should send.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest:
		return http.StatusBadRequest
	case KindRoomFull:
		return http.StatusConflict
	case KindStorage, KindMedia, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WSCode maps a Kind to the numeric code carried in a signaling "error" frame.
func WSCode(kind Kind) int {
	return HTTPStatus(kind)
}
