package utils

import (
	"regexp"
)

// E.164 格式校验，区号单独存储，这里只看号码本体
var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)

func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(phone)
}

// MaskPhone 脱敏手机号，保留前三位和末两位
func MaskPhone(phone string) string {
	runes := []rune(phone)
	if len(runes) <= 5 {
		return phone
	}

	masked := make([]rune, 0, len(runes))
	masked = append(masked, runes[:3]...)
	for i := 3; i < len(runes)-2; i++ {
		masked = append(masked, '*')
	}
	masked = append(masked, runes[len(runes)-2:]...)

	return string(masked)
}
