package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error представляет кастомную ошибку с дополнительной информацией
type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Details string          `json:"details,omitempty"`
	Cause   error           `json:"-"`
	Context context.Context `json:"-"`
}

// ErrorCode представляет код ошибки
type ErrorCode string

// Общие коды ошибок
const (
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrConflict     ErrorCode = "CONFLICT"
)

// Коды ошибок ядра бронирования
const (
	ErrUnauthenticated         ErrorCode = "UNAUTHENTICATED"
	ErrNoTenantAssigned        ErrorCode = "NO_TENANT_ASSIGNED"
	ErrCrossTenantAccessDenied ErrorCode = "CROSS_TENANT_ACCESS_DENIED"
	ErrInvalidCredentials      ErrorCode = "INVALID_CREDENTIALS"
	ErrRateLimited             ErrorCode = "RATE_LIMITED"
	ErrResourceUnavailable     ErrorCode = "RESOURCE_UNAVAILABLE"
	ErrInvalidInterval         ErrorCode = "INVALID_INTERVAL"
	ErrDurationTooLong         ErrorCode = "DURATION_TOO_LONG"
	ErrSlotConflict            ErrorCode = "SLOT_CONFLICT"
	ErrNotPending              ErrorCode = "NOT_PENDING"
	ErrTryAgain                ErrorCode = "TRY_AGAIN"
	ErrUnknownCode             ErrorCode = "UNKNOWN_CODE"
	ErrCodeAlreadyInUse        ErrorCode = "CODE_ALREADY_IN_USE"
	ErrPersistenceFailure      ErrorCode = "PERSISTENCE_FAILURE"
)

// Error возвращает сообщение об ошибке
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap возвращает причину ошибки
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду
func (e *Error) Is(target error) bool {
	if targetError, ok := target.(*Error); ok {
		return e.Code == targetError.Code
	}
	return false
}

// New создает новую кастомную ошибку
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap оборачивает существующую ошибку в кастомную
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithDetails добавляет детали к ошибке
func (e *Error) WithDetails(details string) *Error {
	if e == nil {
		return nil
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
		Context: e.Context,
	}
}

// WithContext добавляет контекст к ошибке
func (e *Error) WithContext(ctx context.Context) *Error {
	if e == nil {
		return nil
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   e.Cause,
		Context: ctx,
	}
}

// CodeOf возвращает код первой кастомной ошибки в цепочке.
// Для прочих ошибок возвращает ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// HasCode проверяет, содержит ли цепочка ошибку с указанным кодом
func HasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return stderrors.Is(err, &Error{Code: code})
}

// ToGRPCErr переводит кастомную ошибку в gRPC статус
func (e *Error) ToGRPCErr() error {
	if e == nil {
		return nil
	}

	var grpcCode codes.Code
	switch e.Code {
	case ErrNotFound:
		grpcCode = codes.NotFound
	case ErrValidation, ErrInvalidInterval, ErrDurationTooLong:
		grpcCode = codes.InvalidArgument
	case ErrUnauthorized, ErrUnauthenticated, ErrNoTenantAssigned, ErrInvalidCredentials:
		grpcCode = codes.Unauthenticated
	case ErrForbidden, ErrCrossTenantAccessDenied:
		grpcCode = codes.PermissionDenied
	case ErrConflict, ErrCodeAlreadyInUse:
		grpcCode = codes.AlreadyExists
	case ErrSlotConflict, ErrNotPending, ErrResourceUnavailable:
		grpcCode = codes.FailedPrecondition
	case ErrUnknownCode:
		grpcCode = codes.NotFound
	case ErrRateLimited:
		grpcCode = codes.ResourceExhausted
	case ErrTryAgain:
		grpcCode = codes.Unavailable
	case ErrInternal, ErrPersistenceFailure:
		grpcCode = codes.Internal
	default:
		grpcCode = codes.Unknown
	}

	return status.New(grpcCode, e.GetUserMessage()).Err()
}

// FromGRPCErr преобразует gRPC ошибку в кастомную ошибку
func FromGRPCErr(err error) *Error {
	if err == nil {
		return nil
	}

	if grpcStatus, ok := status.FromError(err); ok {
		var code ErrorCode
		switch grpcStatus.Code() {
		case codes.NotFound:
			code = ErrNotFound
		case codes.InvalidArgument:
			code = ErrValidation
		case codes.Unauthenticated:
			code = ErrUnauthenticated
		case codes.PermissionDenied:
			code = ErrForbidden
		case codes.AlreadyExists:
			code = ErrConflict
		case codes.ResourceExhausted:
			code = ErrRateLimited
		case codes.Unavailable:
			code = ErrTryAgain
		default:
			code = ErrInternal
		}

		return &Error{
			Code:    code,
			Message: grpcStatus.Message(),
		}
	}

	return Wrap(err, ErrInternal, "internal error")
}

// HTTPStatus возвращает соответствующий HTTP статус для ошибки
func (e *Error) HTTPStatus() int {
	if e == nil {
		return http.StatusOK
	}

	switch e.Code {
	case ErrNotFound, ErrUnknownCode:
		return http.StatusNotFound
	case ErrValidation, ErrInvalidInterval, ErrDurationTooLong:
		return http.StatusBadRequest
	case ErrUnauthorized, ErrUnauthenticated, ErrNoTenantAssigned, ErrInvalidCredentials:
		return http.StatusUnauthorized
	case ErrForbidden, ErrCrossTenantAccessDenied:
		return http.StatusForbidden
	case ErrConflict, ErrSlotConflict, ErrNotPending, ErrCodeAlreadyInUse:
		return http.StatusConflict
	case ErrResourceUnavailable:
		return http.StatusUnprocessableEntity
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrTryAgain:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetUserMessage возвращает сообщение для внешнего клиента.
// Внутренние причины (Cause, Details) наружу не отдаются.
func (e *Error) GetUserMessage() string {
	if e == nil {
		return ""
	}

	switch e.Code {
	case ErrNotFound:
		return "resource not found"
	case ErrValidation:
		return "invalid request"
	case ErrUnauthorized, ErrUnauthenticated:
		return "authentication required"
	case ErrNoTenantAssigned:
		return "no community assigned"
	case ErrForbidden:
		return "forbidden"
	case ErrCrossTenantAccessDenied:
		return "access denied"
	case ErrInvalidCredentials:
		return "invalid credentials"
	case ErrRateLimited:
		return "too many attempts, try again later"
	case ErrResourceUnavailable:
		return "parking slot is not available"
	case ErrInvalidInterval:
		return "end must be after start"
	case ErrDurationTooLong:
		return "reservation is too long"
	case ErrSlotConflict:
		return "the slot is already booked for this time"
	case ErrNotPending:
		return "reservation is no longer pending"
	case ErrTryAgain:
		return "the slot is busy, try again"
	case ErrUnknownCode:
		return "unknown community code"
	case ErrCodeAlreadyInUse:
		return "community code already in use"
	case ErrConflict:
		return "conflict"
	default:
		return "internal server error"
	}
}

// WriteJSON отправляет JSON ответ с ошибкой
func WriteJSON(w http.ResponseWriter, err error) {
	var appErr *Error
	if !stderrors.As(err, &appErr) {
		appErr = Wrap(err, ErrInternal, "internal error")
	}

	response := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    publicCode(appErr.Code),
			"message": appErr.GetUserMessage(),
		},
	}

	jsonData, jsonErr := json.Marshal(response)
	w.Header().Set("Content-Type", "application/json")
	if jsonErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}`))
		return
	}

	w.WriteHeader(appErr.HTTPStatus())
	_, _ = w.Write(jsonData)
}

// publicCode скрывает детали внутренних ошибок
func publicCode(code ErrorCode) ErrorCode {
	switch code {
	case ErrPersistenceFailure:
		return ErrInternal
	default:
		return code
	}
}
