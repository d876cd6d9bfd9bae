package schedule

// 到期扫描器：周期性扫描推导到期时间临近的档案，为延迟消息兜底。
// 正常路径下打卡即时投放延迟消息；延迟超过 24 小时或投放失败的，靠这里补上。

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"StillOK/config"
	"StillOK/internal/queue"
	"StillOK/internal/repository"
	"StillOK/pkg/logger"
	"StillOK/storage/database"
)

var (
	scannerOnce sync.Once
	scannerInst *DeadlineScanner
)

type DeadlineScanner struct {
	profiles repository.ProfileRepository
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

func GetDeadlineScanner() *DeadlineScanner {
	scannerOnce.Do(func() {
		scannerInst = &DeadlineScanner{
			profiles: repository.NewProfileRepo(database.DB()),
			logger:   logger.Logger,
		}
	})
	return scannerInst
}

// Run 周期运行扫描，ctx 取消后返回
func (s *DeadlineScanner) Run(ctx context.Context) {
	interval := time.Duration(config.Cfg.DeadlineScanIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Deadline scanner started",
		zap.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Deadline scanner stopped")
			return
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil {
				s.logger.Error("Deadline scan failed", zap.Error(err))
			}
		}
	}
}

// ScanOnce 单轮扫描
// 窗口取 [已过期兜底, 24h)：过去一小时内该触发却没触发的也捞回来
func (s *DeadlineScanner) ScanOnce(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Deadline scan already running, skipping")
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	now := time.Now()
	s.lastRun = now

	from := now.Add(-time.Hour)
	to := now.Add(24 * time.Hour)

	profiles, err := s.profiles.ListWithDeadlineBetween(ctx, from, to)
	if err != nil {
		return err
	}

	scheduled := 0
	for i := range profiles {
		expiry := profiles[i].ExpiryAt()
		if expiry == nil {
			continue
		}

		ok, err := queue.ScheduleDeadlineIfDue(ctx, profiles[i].PublicID, *expiry)
		if err != nil {
			s.logger.Error("Failed to schedule deadline from scan",
				zap.Int64("user_id", profiles[i].PublicID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			scheduled++
		}
	}

	s.logger.Info("Deadline scan finished",
		zap.Int("candidates", len(profiles)),
		zap.Int("scheduled", scheduled),
		zap.Duration("took", time.Since(now)),
	)

	return nil
}
