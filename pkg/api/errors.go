package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// writeError maps a store/service error to a JSON error response, following
// the teacher's pkg/api/errors.go mapServiceError idiom (validation ->
// 400, not-found -> 404, already-exists -> 409, everything else -> 500),
// generalized from services.ValidationError/ErrNotFound/ErrAlreadyExists to
// this module's lcerrors.Kind vocabulary (spec.md §7).
func writeError(c *gin.Context, err error) {
	if errors.Is(err, lcerrors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}
	if errors.Is(err, lcerrors.ErrAlreadyExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "resource already exists"})
		return
	}

	var lcErr *lcerrors.Error
	if errors.As(err, &lcErr) {
		c.JSON(statusForKind(lcErr.Kind), gin.H{"error": lcErr.Error(), "kind": string(lcErr.Kind)})
		return
	}

	slogError(c, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func statusForKind(k lcerrors.Kind) int {
	switch k {
	case lcerrors.KindPathViolation, lcerrors.KindPolicyDenied, lcerrors.KindWebBlocked:
		return http.StatusForbidden
	case lcerrors.KindInvalidArgument, lcerrors.KindDecisionSchema:
		return http.StatusBadRequest
	case lcerrors.KindChecksumMismatch:
		return http.StatusConflict
	case lcerrors.KindLockAcquisition:
		return http.StatusConflict
	case lcerrors.KindWebTimeout:
		return http.StatusGatewayTimeout
	case lcerrors.KindWebBadGateway, lcerrors.KindWebNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
