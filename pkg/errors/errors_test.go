package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TestNewError проверяет создание новой ошибки
func TestNewError(t *testing.T) {
	e := New(ErrSlotConflict, "slot conflict")
	require.NotNil(t, e)
	assert.Equal(t, ErrSlotConflict, e.Code)
	assert.Equal(t, "slot conflict", e.Message)
	assert.Nil(t, e.Cause)
}

// TestWrapError проверяет оборачивание существующей ошибки
func TestWrapError(t *testing.T) {
	original := fmt.Errorf("connection reset")
	e := Wrap(original, ErrPersistenceFailure, "failed to insert reservation")

	require.NotNil(t, e)
	assert.Equal(t, ErrPersistenceFailure, e.Code)
	assert.Equal(t, "failed to insert reservation: connection reset", e.Error())
	assert.True(t, stderrors.Is(e, original))
	assert.Nil(t, Wrap(nil, ErrInternal, "nothing"))
}

// TestIs_ComparesByCode проверяет сравнение ошибок по коду через errors.Is
func TestIs_ComparesByCode(t *testing.T) {
	sentinel := New(ErrSlotConflict, "slot conflict")
	got := fmt.Errorf("reserve: %w", New(ErrSlotConflict, "overlap on resource").WithDetails("resource_id: r1"))

	assert.True(t, stderrors.Is(got, sentinel))
	assert.False(t, stderrors.Is(got, New(ErrResourceUnavailable, "")))
	assert.True(t, HasCode(got, ErrSlotConflict))
	assert.False(t, HasCode(nil, ErrSlotConflict))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrTryAgain, CodeOf(fmt.Errorf("wrapped: %w", New(ErrTryAgain, "busy"))))
	assert.Equal(t, ErrInternal, CodeOf(fmt.Errorf("plain")))
}

// TestWithDetailsAndContext проверяет, что With* не мутируют исходную ошибку
func TestWithDetailsAndContext(t *testing.T) {
	base := New(ErrNotFound, "reservation not found")
	ctx := context.Background()

	detailed := base.WithDetails("reservation_id: 1").WithContext(ctx)
	assert.Equal(t, "reservation_id: 1", detailed.Details)
	assert.Equal(t, ctx, detailed.Context)
	assert.Empty(t, base.Details)

	var nilErr *Error
	assert.Nil(t, nilErr.WithDetails("x"))
	assert.Nil(t, nilErr.WithContext(ctx))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrUnauthenticated:         http.StatusUnauthorized,
		ErrNoTenantAssigned:        http.StatusUnauthorized,
		ErrInvalidCredentials:      http.StatusUnauthorized,
		ErrCrossTenantAccessDenied: http.StatusForbidden,
		ErrRateLimited:             http.StatusTooManyRequests,
		ErrResourceUnavailable:     http.StatusUnprocessableEntity,
		ErrInvalidInterval:         http.StatusBadRequest,
		ErrDurationTooLong:         http.StatusBadRequest,
		ErrSlotConflict:            http.StatusConflict,
		ErrNotPending:              http.StatusConflict,
		ErrTryAgain:                http.StatusServiceUnavailable,
		ErrUnknownCode:             http.StatusNotFound,
		ErrCodeAlreadyInUse:        http.StatusConflict,
		ErrPersistenceFailure:      http.StatusInternalServerError,
	}
	for code, want := range cases {
		t.Run(string(code), func(t *testing.T) {
			assert.Equal(t, want, New(code, "x").HTTPStatus())
		})
	}

	var nilErr *Error
	assert.Equal(t, http.StatusOK, nilErr.HTTPStatus())
}

func TestToGRPCErr(t *testing.T) {
	st, ok := status.FromError(New(ErrCrossTenantAccessDenied, "tenant mismatch").ToGRPCErr())
	require.True(t, ok)
	assert.Equal(t, codes.PermissionDenied, st.Code())
	assert.Equal(t, "access denied", st.Message())

	st, ok = status.FromError(New(ErrSlotConflict, "overlap").ToGRPCErr())
	require.True(t, ok)
	assert.Equal(t, codes.FailedPrecondition, st.Code())

	var nilErr *Error
	assert.NoError(t, nilErr.ToGRPCErr())
}

func TestFromGRPCErr(t *testing.T) {
	e := FromGRPCErr(status.Error(codes.ResourceExhausted, "slow down"))
	assert.Equal(t, ErrRateLimited, e.Code)
	assert.Equal(t, "slow down", e.Message)

	e = FromGRPCErr(fmt.Errorf("not grpc"))
	assert.Equal(t, ErrInternal, e.Code)

	assert.Nil(t, FromGRPCErr(nil))
}

// TestWriteJSON_HidesInternalCause проверяет, что причина не утекает клиенту
func TestWriteJSON_HidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, Wrap(fmt.Errorf("pq: relation reservations does not exist"), ErrPersistenceFailure, "insert failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "relation")
	assert.Contains(t, rec.Body.String(), `"code":"INTERNAL_ERROR"`)
}

func TestWriteJSON_PlainErrorIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, fmt.Errorf("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestWriteJSON_SpecificAllocationError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, New(ErrSlotConflict, "overlap"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"SLOT_CONFLICT"`)
}
