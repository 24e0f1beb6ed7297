package domain

import "errors"

var (
	// ErrNotFound возвращается адаптерами, если запись отсутствует.
	ErrNotFound = errors.New("запись не найдена")
	// ErrInvalidHeartbeat возвращается при некорректном пульсе или пустом пользователе.
	ErrInvalidHeartbeat = errors.New("некорректное значение пульса")
	// ErrInvalidLimit возвращается при неположительном лимите рейтинга.
	ErrInvalidLimit = errors.New("лимит рейтинга должен быть положительным")
)
