package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"StillOK/config"
	"StillOK/internal/cache"
	"StillOK/internal/model/dto"
	pkgerrors "StillOK/pkg/errors"
	"StillOK/pkg/logger"
	"StillOK/pkg/sms"
	"StillOK/utils"
)

var (
	verificationService *VerificationService
	verificationOnce    sync.Once
)

func Verification() *VerificationService {
	verificationOnce.Do(func() {
		verificationService = NewVerificationService(smsCodeSender{})
	})
	return verificationService
}

// CodeSender 验证码短信发送抽象
type CodeSender interface {
	SendVerificationCode(ctx context.Context, phone, code string) error
}

type smsCodeSender struct{}

func (smsCodeSender) SendVerificationCode(ctx context.Context, phone, code string) error {
	return sms.SendVerificationSMS(ctx, phone, code)
}

// VerificationService 手机验证码
// 验证码单次有效，试错超限作废；手机号只以密文和哈希形态离开本函数
type VerificationService struct {
	sender CodeSender
}

func NewVerificationService(sender CodeSender) *VerificationService {
	return &VerificationService{sender: sender}
}

// SendCode 下发验证码
func (s *VerificationService) SendCode(ctx context.Context, req *dto.SendCodeRequest) (*dto.SendCodeResponse, error) {
	if !utils.ValidatePhone(req.Phone) {
		return nil, pkgerrors.InvalidPhone
	}

	phoneHash := utils.HashPhone(req.Phone)

	count, err := cache.IncrDailySendCount(ctx, phoneHash)
	if err != nil {
		return nil, fmt.Errorf("failed to count daily sends: %w", err)
	}
	if count > int64(config.Cfg.CaptchaMaxDaily) {
		return nil, pkgerrors.CaptchaRateLimited
	}

	code, err := generateNumericCode(6)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	phoneCipher, err := utils.EncryptPhone(req.Phone)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt phone: %w", err)
	}

	verificationID := uuid.NewString()
	entry := &cache.VerificationEntry{
		PhoneHash:   phoneHash,
		PhoneCipher: phoneCipher,
		PhoneRegion: req.PhoneRegion,
		Code:        code,
	}

	if err := cache.SetVerification(ctx, verificationID, entry); err != nil {
		return nil, fmt.Errorf("failed to store verification: %w", err)
	}

	if err := s.sender.SendVerificationCode(ctx, req.Phone, code); err != nil {
		// 短信没发出去，记录立即作废，避免占用每日额度之外还留下死记录
		if delErr := cache.DeleteVerification(ctx, verificationID); delErr != nil {
			logger.Logger.Warn("Failed to delete verification after send failure",
				zap.Error(delErr),
			)
		}
		logger.Logger.Error("Failed to send verification SMS",
			zap.String("phone", utils.MaskPhone(req.Phone)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to send verification SMS: %w", err)
	}

	logger.Logger.Info("Verification code sent",
		zap.String("verification_id", verificationID),
		zap.String("phone", utils.MaskPhone(req.Phone)),
	)

	return &dto.SendCodeResponse{
		VerificationID: verificationID,
		ExpiresAt:      time.Now().Add(time.Duration(config.Cfg.CaptchaExpireSeconds) * time.Second),
	}, nil
}

// Verify 核对验证码，成功后立即销毁记录
func (s *VerificationService) Verify(ctx context.Context, verificationID, code string) (*cache.VerificationEntry, error) {
	entry, err := cache.GetVerification(ctx, verificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification: %w", err)
	}
	if entry == nil {
		return nil, pkgerrors.VerificationCodeExpired
	}

	if entry.Attempts >= cache.MaxVerifyAttempts {
		if err := cache.DeleteVerification(ctx, verificationID); err != nil {
			logger.Logger.Warn("Failed to delete exhausted verification",
				zap.Error(err),
			)
		}
		return nil, pkgerrors.VerificationCodeExpired
	}

	if entry.Code != code {
		if err := cache.IncrVerifyAttempts(ctx, verificationID, entry); err != nil {
			logger.Logger.Warn("Failed to record verify attempt",
				zap.Error(err),
			)
		}
		return nil, pkgerrors.VerificationCodeInvalid
	}

	if err := cache.DeleteVerification(ctx, verificationID); err != nil {
		logger.Logger.Warn("Failed to delete used verification",
			zap.Error(err),
		)
	}

	return entry, nil
}

func generateNumericCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", digits, n), nil
}
