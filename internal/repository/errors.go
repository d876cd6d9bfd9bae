package repository

import "errors"

var (
	// ErrNotFound 目标记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 违反唯一约束
	ErrDuplicate = errors.New("duplicate record")
	// ErrVersionConflict 乐观锁版本冲突
	ErrVersionConflict = errors.New("version conflict")
)
