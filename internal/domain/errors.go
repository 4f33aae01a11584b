package domain

import "errors"

var (
	ErrMutationNotFound = errors.New("pending mutation not found")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrProfileNotFound  = errors.New("profile not found")
)
