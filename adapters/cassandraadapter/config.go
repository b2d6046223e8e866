package cassandraadapter

import (
	"time"

	"github.com/gocql/gocql"
)

// Config contains configuration for connecting to a Cassandra cluster and
// for the distributed-coordinator-style transactional resource this
// adapter manages, grounded on the teacher's cassandra/connection.go
// Config (same field names, adapter-scoped options dropped).
type Config struct {
	// ClusterHosts lists contact points for the Cassandra cluster.
	ClusterHosts []string
	// Keyspace is the keyspace the logged batch targets.
	Keyspace string
	// Consistency is the consistency level applied to the batch.
	Consistency gocql.Consistency
	// ConnectionTimeout is the session connection timeout.
	ConnectionTimeout time.Duration
}
