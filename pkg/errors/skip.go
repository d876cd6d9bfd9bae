package errors

import (
	"errors"
	"fmt"
)

// SkipMessageError 表示消息应当被 ack 并跳过，而不是重投。
// 幂等检查命中或负载永久损坏时使用。
type SkipMessageError struct {
	Reason string
}

func (e *SkipMessageError) Error() string {
	return fmt.Sprintf("skip message: %s", e.Reason)
}

// PermanentError 标记不可重试的投递失败（负载损坏、目标不存在等）。
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent 包装一个不应进入离线重试队列的错误。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsSkipMessageError 判断错误链上是否有跳过标记。
func IsSkipMessageError(err error) bool {
	var e *SkipMessageError
	return errors.As(err, &e)
}

// IsPermanent 判断错误链上是否有不可重试标记。
func IsPermanent(err error) bool {
	var e *PermanentError
	return errors.As(err, &e)
}
