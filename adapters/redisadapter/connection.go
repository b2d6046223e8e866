package redisadapter

import "github.com/redis/go-redis/v9"

// OpenClient creates a *redis.Client from config, grounded on the teacher's
// redis/connection.go openConnection but without the package-level
// singleton - each Adapter owns its own client.
func OpenClient(config Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		TLSConfig: config.TLSConfig,
		Addr:      config.Address,
		Password:  config.Password,
		DB:        config.DB,
	})
}
