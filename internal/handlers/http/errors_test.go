package http

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"meshcall/internal/core/domain"
	apperrors "meshcall/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestToAppError(t *testing.T) {
	tests := []struct {
		err    error
		code   apperrors.ErrorCode
		status int
	}{
		{domain.ErrCallActive, apperrors.ErrCodeConflict, http.StatusConflict},
		{domain.ErrScreenShareInactive, apperrors.ErrCodeConflict, http.StatusConflict},
		{fmt.Errorf("peer b: %w", domain.ErrPeerNotFound), apperrors.ErrCodeNotFound, http.StatusNotFound},
		{domain.ErrNegotiationInProgress, apperrors.ErrCodeNegotiationFailed, http.StatusConflict},
		{domain.ErrTransportExhausted, apperrors.ErrCodeTransportExhausted, http.StatusBadGateway},
		{domain.ErrHandshakeTimeout, apperrors.ErrCodeTransportUnavailable, http.StatusServiceUnavailable},
		{domain.ErrDeviceInUse, apperrors.ErrCodeDeviceInUse, http.StatusConflict},
		{apperrors.NewInvalidInputError("bad"), apperrors.ErrCodeInvalidInput, http.StatusBadRequest},
		{errors.New("unexpected"), apperrors.ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			appErr := toAppError(tt.err)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
		})
	}
}
