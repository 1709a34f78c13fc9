package validation

import (
	"fmt"
	"regexp"
	"unicode"
)

// EntityNamePattern определяет допустимый формат тега сущности
// Только строчные латинские буквы, цифры и нижнее подчеркивание, первый символ - буква
// Длина: 2-32 символа
var EntityNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,31}$`)

// MaxDocumentIDLen максимальная длина идентификатора документа
const MaxDocumentIDLen = 128

// ValidateEntityName проверяет, что тег сущности соответствует требованиям
func ValidateEntityName(name string) error {
	if name == "" {
		return fmt.Errorf("entity name cannot be empty")
	}

	if !EntityNamePattern.MatchString(name) {
		return fmt.Errorf("entity name %q must match %s", name, EntityNamePattern.String())
	}

	return nil
}

// ValidateDocumentID проверяет идентификатор документа
// Непустой, не длиннее MaxDocumentIDLen байт, без управляющих символов
func ValidateDocumentID(id string) error {
	if id == "" {
		return fmt.Errorf("document id cannot be empty")
	}

	if len(id) > MaxDocumentIDLen {
		return fmt.Errorf("document id must not exceed %d bytes", MaxDocumentIDLen)
	}

	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("document id must not contain control characters")
		}
	}

	return nil
}
