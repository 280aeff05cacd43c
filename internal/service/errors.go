package service

import "errors"

var (
	ErrNotConfigured = errors.New("cloud credential not configured")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidLogin  = errors.New("invalid username or password")
	ErrUsernameTaken = errors.New("username already taken")
)
