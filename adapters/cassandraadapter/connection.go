package cassandraadapter

import (
	"fmt"

	"github.com/gocql/gocql"
)

// OpenSession opens a *gocql.Session against config, grounded directly on
// the teacher's cassandra/connection.go OpenConnection (cluster setup,
// consistency defaulting, keyspace creation) but without the package-level
// singleton - each Adapter owns one session so multiple adapters (e.g. in
// tests) don't fight over a shared global.
func OpenSession(config Config) (*gocql.Session, error) {
	if config.Keyspace == "" {
		config.Keyspace = "txmgr"
	}
	if config.Consistency == gocql.Any {
		config.Consistency = gocql.LocalQuorum
	}
	cluster := gocql.NewCluster(config.ClusterHosts...)
	cluster.Consistency = config.Consistency
	if config.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = config.ConnectionTimeout
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandraadapter: create session: %w", err)
	}
	if err := session.Query(fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = {'class':'SimpleStrategy', 'replication_factor':1};",
		config.Keyspace)).Exec(); err != nil {
		session.Close()
		return nil, fmt.Errorf("cassandraadapter: create keyspace: %w", err)
	}
	return session, nil
}
