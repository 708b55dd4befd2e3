package errs

import "errors"

// Типовые ошибки ядра. Хэндлеры различают их через errors.Is и сами решают,
// какой HTTP-код вернуть; сервисы никогда не отдают «голую» ошибку БД наружу
// без обёртки.
var (
	ErrRequestNotFound = errors.New("service request not found")
	ErrRuleNotFound    = errors.New("routing rule not found")
	ErrUserNotFound    = errors.New("user not found")

	// ErrInvalidTransition — переход статуса не разрешён таблицей переходов.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidHandler — пользователь неактивен или не допущен к типу заявки.
	ErrInvalidHandler = errors.New("user is not a valid handler for this service type")

	// ErrNoHandlerAvailable — автоподбор не нашёл ни одного активного исполнителя.
	ErrNoHandlerAvailable = errors.New("no handler available for auto-assignment")

	// ErrConflict — конкурирующее изменение успело раньше (проигравший claim).
	ErrConflict = errors.New("request was modified concurrently")

	ErrValidation = errors.New("validation failed")
)
