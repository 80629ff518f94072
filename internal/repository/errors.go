package repository

import "errors"

var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrInvalidData неверные данные
	ErrInvalidData = errors.New("invalid data")

	// ErrStoreUnavailable персистентное хранилище недоступно.
	// Вызывающая сторона должна переключиться на in-memory fallback,
	// а не отдавать эту ошибку пользователю.
	ErrStoreUnavailable = errors.New("usage store unavailable")
)
