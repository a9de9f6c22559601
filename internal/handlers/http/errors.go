package http

import (
	stderrors "errors"
	"net/http"

	"meshcall/internal/core/domain"
	"meshcall/pkg/errors"
)

// toAppError maps call errors onto the codes the control API reports.
func toAppError(err error) *errors.AppError {
	if appErr := errors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrCallActive),
		stderrors.Is(err, domain.ErrCallNotActive),
		stderrors.Is(err, domain.ErrScreenShareActive),
		stderrors.Is(err, domain.ErrScreenShareInactive),
		stderrors.Is(err, domain.ErrNoLocalStream):
		return errors.NewConflictError(err.Error())
	case stderrors.Is(err, domain.ErrNegotiationInProgress),
		stderrors.Is(err, domain.ErrNoPendingOffer):
		return errors.NewNegotiationError(err)
	case stderrors.Is(err, domain.ErrPeerNotFound):
		return errors.NewNotFoundError("peer")
	case stderrors.Is(err, domain.ErrTransportExhausted):
		return errors.NewTransportExhaustedError(err)
	case stderrors.Is(err, domain.ErrNotConnected),
		stderrors.Is(err, domain.ErrHandshakeTimeout):
		return errors.NewTransportUnavailableError(err)
	case stderrors.Is(err, domain.ErrPermissionDenied):
		return errors.NewMediaError(errors.ErrCodePermissionDenied, err)
	case stderrors.Is(err, domain.ErrDeviceNotFound):
		return errors.NewMediaError(errors.ErrCodeDeviceNotFound, err)
	case stderrors.Is(err, domain.ErrDeviceInUse):
		return errors.NewMediaError(errors.ErrCodeDeviceInUse, err)
	}
	return errors.WrapError(err, errors.ErrCodeInternal, "internal error", http.StatusInternalServerError)
}
