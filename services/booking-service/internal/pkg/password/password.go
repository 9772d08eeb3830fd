package password

import (
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// Hasher интерфейс для работы с паролями
type Hasher interface {
	Hash(password string) (string, error)
	Check(password, hash string) bool
	// CheckDummy выполняет одно сравнение с фиксированным хешем.
	// Используется на путях отказа, чтобы время ответа не зависело от причины.
	CheckDummy(password string)
	Validate(password string) bool
}

// BcryptHasher реализация Hasher с использованием bcrypt
type BcryptHasher struct {
	cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewBcryptHasher создает новый BcryptHasher
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash хеширует пароль с использованием bcrypt
func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Check проверяет, соответствует ли пароль хешу
func (h *BcryptHasher) Check(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// CheckDummy сравнивает пароль с хешем той же стоимости, что и настоящие
func (h *BcryptHasher) CheckDummy(password string) {
	h.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("dummy-password-never-matches"), h.cost)
		if err == nil {
			h.dummyHash = hash
		}
	})
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}

// Validate проверяет сложность пароля: минимум 8 символов, цифра, заглавная и строчная буква.
// bcrypt учитывает только первые 72 байта, более длинные пароли отклоняются.
func (h *BcryptHasher) Validate(password string) bool {
	if len([]rune(password)) < 8 || len(password) > 72 {
		return false
	}

	hasDigit := false
	hasUpper := false
	hasLower := false

	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		}
	}

	return hasDigit && hasUpper && hasLower
}
