package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New("CLUSTER_NOT_FOUND", "cluster not found", http.StatusNotFound),
			want: "CLUSTER_NOT_FOUND: cluster not found",
		},
		{
			name: "with wrapped error",
			err:  Wrap(fmt.Errorf("db error"), "DB_ERROR", "database failure", http.StatusInternalServerError),
			want: "DB_ERROR: database failure: db error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap(inner, "CODE", "msg", 500)

	if !errors.Is(appErr, inner) {
		t.Error("errors.Is should match inner error")
	}
}

func TestIsAppError(t *testing.T) {
	appErr := ErrClusterNotFound("Bogus")
	wrapped := fmt.Errorf("wrapped: %w", appErr)

	got, ok := IsAppError(wrapped)
	if !ok {
		t.Fatal("IsAppError should return true for wrapped AppError")
	}
	if got.Code != CodeClusterNotFound {
		t.Errorf("Code = %q, want %s", got.Code, CodeClusterNotFound)
	}
	if !HasCode(wrapped, CodeClusterNotFound) {
		t.Error("HasCode should match wrapped code")
	}
}

func TestConstructorMessages(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantMsg    string
		wantStatus int
	}{
		{"cluster not found", ErrClusterNotFound("Bogus"), CodeClusterNotFound,
			"The cluster (Bogus) could not be found.", http.StatusNotFound},
		{"bad request", ErrBadRequest("No nodes to add: []"), CodeBadRequest,
			"The request is malformed: No nodes to add: []", http.StatusBadRequest},
		{"sort dir", ErrInvalidSortDir(), CodeInvalidParameter,
			"Unknown sort direction, must be 'desc' or 'asc'", http.StatusBadRequest},
		{"invalid parameter", ErrInvalidParameter("size", "Big"), CodeInvalidParameter,
			"Invalid value 'Big' specified for 'size'", http.StatusBadRequest},
		{"ambiguous", ErrAmbiguousIdentity("cluster", "c1"), CodeAmbiguousIdentity,
			"Multiple clusters matched identity (c1).", http.StatusConflict},
		{"not supported", ErrNotSupported("Updating profile of an ERROR cluster"), CodeNotSupported,
			"Updating profile of an ERROR cluster is not supported", http.StatusConflict},
		{"binding", ErrClusterPolicyNotFound("c-1", "p-1"), CodeClusterPolicyNotFound,
			"The policy (p-1) is not attached to cluster (c-1).", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", tt.err.Message, tt.wantMsg)
			}
			if tt.err.HTTPStatus != tt.wantStatus {
				t.Errorf("HTTPStatus = %d, want %d", tt.err.HTTPStatus, tt.wantStatus)
			}
		})
	}
}
