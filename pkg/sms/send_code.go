package sms

import (
	"context"
	"encoding/json"
	"fmt"

	"StillOK/config"
)

// SendVerificationSMS 发送验证码短信，统一使用配置的模板
func SendVerificationSMS(ctx context.Context, phone, code string) error {
	cfg := config.Cfg

	templateParam := map[string]string{
		"code": code,
	}
	paramJSON, err := json.Marshal(templateParam)
	if err != nil {
		return fmt.Errorf("failed to marshal template param: %w", err)
	}

	return SendSingle(ctx, phone, cfg.SMSSignName, cfg.SMSTemplateCode, string(paramJSON))
}
