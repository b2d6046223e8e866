package sqladapter

import (
	"encoding/json"
	"os"
)

// Config holds the parameters used to open the relational connection pool,
// loaded the way the teacher's root config.go loads SOP's Configuration:
// a JSON file read at startup.
type Config struct {
	// DriverName is the database/sql driver to use, e.g. "postgres".
	DriverName string `json:"driverName"`
	// DataSourceName is the driver-specific connection string.
	DataSourceName string `json:"dataSourceName"`
	// MaxOpenConns bounds the pool; zero means the driver's default.
	MaxOpenConns int `json:"maxOpenConns"`
	// MaxRetries bounds the Fibonacci-backoff retry applied to DoBegin
	// failures (deadlocks, connection resets); DoCommit is not retried.
	MaxRetries uint64 `json:"maxRetries"`
}

// LoadConfig reads and unmarshals a Config from a JSON file, mirroring
// sop.LoadConfiguration.
func LoadConfig(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	return c, nil
}
