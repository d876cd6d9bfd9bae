package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePhone(t *testing.T) {
	valid := []string{"+8613800138000", "13800138000", "+14155552671", "442071838750"}
	for _, phone := range valid {
		assert.True(t, ValidatePhone(phone), phone)
	}

	invalid := []string{"", "abc", "0123456", "+0123456789", "123", "+861380013800012345"}
	for _, phone := range invalid {
		assert.False(t, ValidatePhone(phone), phone)
	}
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "138******00", MaskPhone("13800138000"))
	assert.Equal(t, "+86*********00", MaskPhone("+8613800138000"))
	// 过短的号码原样返回，避免脱敏出空串
	assert.Equal(t, "12345", MaskPhone("12345"))
	assert.Equal(t, "", MaskPhone(""))
}
