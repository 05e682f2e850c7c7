package rewards

import "errors"

// Ошибки бизнес-правил. Сравнивать через errors.Is.
var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("not found")
	ErrWrongOwner          = errors.New("wrong owner")
	ErrNotRedeemable       = errors.New("not redeemable")
	ErrContestClosed       = errors.New("contest closed")
	ErrUnknownReward       = errors.New("unknown reward")
	ErrInvalidInput        = errors.New("invalid input")

	// нарушение уникального ключа (код купона, код клиента)
	ErrConflict = errors.New("conflict")
)

// Kind возвращает машинное имя ошибки для внешних слоев
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrInsufficientBalance):
		return "InsufficientBalance"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrWrongOwner):
		return "WrongOwner"
	case errors.Is(err, ErrNotRedeemable):
		return "NotRedeemable"
	case errors.Is(err, ErrContestClosed):
		return "ContestClosed"
	case errors.Is(err, ErrUnknownReward):
		return "UnknownReward"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	}
	return "Internal"
}

// ошибка бизнес-правила: повтор не поможет
func IsBusiness(err error) bool {
	kind := Kind(err)
	return kind != "" && kind != "Internal"
}
