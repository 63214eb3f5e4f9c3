package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/thereayou/convoy/internal/services"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{services.ErrNotFound, http.StatusNotFound, "room_not_found"},
	{services.ErrNotMember, http.StatusNotFound, "not_member"},
	{services.ErrAlreadyMember, http.StatusConflict, "already_member"},
	{services.ErrRoomFull, http.StatusConflict, "room_full"},
	{services.ErrConflict, http.StatusConflict, "conflict"},
	{services.ErrAlreadyLeft, http.StatusConflict, "already_left"},
	{services.ErrNotActive, http.StatusConflict, "membership_not_active"},
	{services.ErrExpired, http.StatusGone, "room_expired"},
	{services.ErrInactive, http.StatusGone, "room_inactive"},
	{services.ErrAccessDenied, http.StatusForbidden, "access_denied"},
	{services.ErrBusy, http.StatusLocked, "room_busy"},
	{services.ErrAllocationExhausted, http.StatusServiceUnavailable, "code_allocation_exhausted"},
	{services.ErrTransactionTimeout, http.StatusGatewayTimeout, "transaction_timeout"},
	{services.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{services.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
}

// classify HTTP-статус и машинный код ошибки сервиса
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func respondError(c *gin.Context, log *logrus.Entry, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		msg = "internal server error"
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error":     msg,
		"code":      code,
		"retryable": services.IsRetryable(err),
	})
}
