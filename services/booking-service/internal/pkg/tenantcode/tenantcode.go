package tenantcode

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

// randomBytes дает 26 символов base32 (130 бит) после усечения
const (
	randomBytes = 17
	codeLength  = 26
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generator выпускает непредсказуемые коды сообществ вида <prefix>_<26 символов base32>
type Generator struct {
	prefix string
}

// NewGenerator создает генератор с указанным префиксом
func NewGenerator(prefix string) *Generator {
	if prefix == "" {
		prefix = "cp"
	}
	return &Generator{prefix: strings.ToLower(prefix)}
}

// Generate возвращает новый код из crypto/rand
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	random := strings.ToLower(encoding.EncodeToString(buf))[:codeLength]
	return g.prefix + "_" + random, nil
}
