package models

import "errors"

// Errors shared by every user store implementation
var (
	ErrUserExists   = errors.New("username already taken")
	ErrUserNotFound = errors.New("user not found")
)
