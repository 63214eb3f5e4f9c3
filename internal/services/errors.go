package services

import "errors"

var (
	ErrNotFound            = errors.New("room not found")
	ErrInactive            = errors.New("room is not active")
	ErrExpired             = errors.New("room has expired")
	ErrRoomFull            = errors.New("room is full")
	ErrAlreadyMember       = errors.New("user is already a member of the room")
	ErrNotMember           = errors.New("user is not a member of the room")
	ErrAlreadyLeft         = errors.New("member has already left the room")
	ErrNotActive           = errors.New("membership is not active")
	ErrBusy                = errors.New("room is busy, try again")
	ErrAllocationExhausted = errors.New("could not allocate a room code")
	ErrTransactionTimeout  = errors.New("transaction timed out")
	ErrAccessDenied        = errors.New("access denied")
	ErrConflict            = errors.New("concurrent modification, try again")
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimited         = errors.New("rate limit exceeded")
)

// IsRetryable ошибки, после которых тот же запрос можно повторить
func IsRetryable(err error) bool {
	for _, target := range []error{ErrBusy, ErrAllocationExhausted, ErrTransactionTimeout, ErrConflict, ErrRateLimited} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
