package domain

import "errors"

var (
	// Ошибка отсутствующей ссылки на клиента у заказа.
	ErrCustomerRequired = errors.New("order has no customer link")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка пустого или некорректного productId у позиции.
	ErrProductIDInvalid = errors.New("item product_id is malformed")
	// ErrOrderIDRequired возвращается, если не передан идентификатор заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrInvalidReviewResult — решение оператора вне допустимого набора.
	ErrInvalidReviewResult = errors.New("review result must be approved, rejected or prepayment")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrAssessmentNotFound возвращается, если оценка риска не найдена.
	ErrAssessmentNotFound = errors.New("risk assessment not found")
	// ErrCallLogNotFound возвращается, если у заказа нет подходящей попытки звонка.
	ErrCallLogNotFound = errors.New("call log not found")
	// ErrTemplateNotFound возвращается, если в каталоге нет шаблона для локали.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrTaskNotFound возвращается, если отложенная задача не найдена.
	ErrTaskNotFound = errors.New("scheduled task not found")

	// ErrOrderAlreadyExists сигнализирует о повторном создании заказа.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrInvalidTransition — запрошенный переход статуса запрещён таблицей переходов.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConfirmationTerminal — подтверждение уже в конечном состоянии (Confirmed/Declined).
	ErrConfirmationTerminal = errors.New("confirmation already resolved")
	// ErrCallAttemptConflict — номер попытки не следующий по порядку (параллельная попытка).
	ErrCallAttemptConflict = errors.New("call attempt number conflict")
	// ErrTaskDuplicate — задача с таким dedup-ключом уже запланирована.
	ErrTaskDuplicate = errors.New("scheduled task already exists")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsNotFound проверяет, относится ли ошибка к классу "не найдено".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrAssessmentNotFound) ||
		errors.Is(err, ErrCallLogNotFound) ||
		errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrTaskNotFound)
}

// IsValidation проверяет, является ли ошибка ошибкой валидации входных данных.
func IsValidation(err error) bool {
	return errors.Is(err, ErrCustomerRequired) ||
		errors.Is(err, ErrItemsRequired) ||
		errors.Is(err, ErrAmountNegative) ||
		errors.Is(err, ErrItemQtyInvalid) ||
		errors.Is(err, ErrProductIDInvalid) ||
		errors.Is(err, ErrOrderIDRequired) ||
		errors.Is(err, ErrInvalidReviewResult)
}

// IsConflict проверяет конфликтные ошибки (переходы статусов, гонки попыток).
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConfirmationTerminal) ||
		errors.Is(err, ErrCallAttemptConflict) ||
		errors.Is(err, ErrTaskDuplicate) ||
		errors.Is(err, ErrOrderAlreadyExists)
}
