package storage

import (
	"StillOK/storage/database"
	"StillOK/storage/mq"
	"StillOK/storage/redis"
)

// Init 统一初始化存储层：Database -> Redis -> MQ
func Init() error {
	if err := database.Init(); err != nil {
		return err
	}

	if err := redis.Init(); err != nil {
		return err
	}

	if err := mq.Init(); err != nil {
		return err
	}

	return nil
}
