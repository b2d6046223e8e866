package redisadapter

import "crypto/tls"

// Config holds the parameters used to open the Redis client, grounded
// directly on the teacher's redis/connection.go Options (same field names).
type Config struct {
	// Address is the host:port of the Redis server/cluster.
	Address string
	// Password authenticates the client, empty for no auth.
	Password string
	// DB selects the logical database index.
	DB int
	// TLSConfig carries TLS settings for secure connections.
	TLSConfig *tls.Config
}

// DefaultConfig returns a Config pointed at a local, unauthenticated Redis
// instance, mirroring redis.DefaultOptions.
func DefaultConfig() Config {
	return Config{Address: "localhost:6379"}
}
