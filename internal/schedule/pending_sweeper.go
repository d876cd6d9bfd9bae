package schedule

// 离线重试清扫器：周期性扫描待处理动作队列，重试投递并清理过期项。

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"StillOK/config"
	"StillOK/pkg/logger"
)

// PendingRetrier 待处理动作的重试入口
type PendingRetrier interface {
	RetrySweep(ctx context.Context, now time.Time) error
}

var (
	sweeperOnce sync.Once
	sweeperInst *PendingSweeper
)

type PendingSweeper struct {
	retrier PendingRetrier
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
}

func NewPendingSweeper(retrier PendingRetrier) *PendingSweeper {
	return &PendingSweeper{
		retrier: retrier,
		logger:  logger.Logger,
	}
}

func GetPendingSweeper(retrier PendingRetrier) *PendingSweeper {
	sweeperOnce.Do(func() {
		sweeperInst = NewPendingSweeper(retrier)
	})
	return sweeperInst
}

// Run 周期清扫，ctx 取消后返回
func (s *PendingSweeper) Run(ctx context.Context) {
	interval := time.Duration(config.Cfg.PendingSweepIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Pending sweeper started",
		zap.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Pending sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce 单轮清扫
func (s *PendingSweeper) SweepOnce(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if err := s.retrier.RetrySweep(ctx, time.Now()); err != nil {
		s.logger.Error("Pending sweep failed", zap.Error(err))
	}
}
