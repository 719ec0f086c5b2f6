package graph

import (
	"context"
	"fmt"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
)

// ArangoConfig holds connection details for an ArangoDB deployment.
type ArangoConfig struct {
	Endpoints []string `json:"endpoints" yaml:"endpoints" mapstructure:"endpoints"`
	Database  string   `json:"database" yaml:"database" mapstructure:"database"`
	Username  string   `json:"username" yaml:"username" mapstructure:"username"`
	Password  string   `json:"password" yaml:"password" mapstructure:"password"`
}

// arangoQuerier adapts an ArangoDB database handle to the Querier interface.
type arangoQuerier struct {
	db arangodb.Database
}

// NewArangoQuerier connects to ArangoDB and returns a Querier over the
// configured database.
func NewArangoQuerier(ctx context.Context, cfg ArangoConfig) (Querier, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("arango: at least one endpoint is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("arango: database is required")
	}

	endpoint := connection.NewRoundRobinEndpoints(cfg.Endpoints)
	conn := connection.NewHttpConnection(connection.DefaultHTTPConfigurationWrapper(endpoint, true))
	if cfg.Username != "" {
		auth := connection.NewBasicAuth(cfg.Username, cfg.Password)
		if err := conn.SetAuthentication(auth); err != nil {
			return nil, fmt.Errorf("arango: set authentication: %w", err)
		}
	}

	client := arangodb.NewClient(conn)
	db, err := client.GetDatabase(ctx, cfg.Database, nil)
	if err != nil {
		return nil, fmt.Errorf("arango: open database %s: %w", cfg.Database, err)
	}
	return &arangoQuerier{db: db}, nil
}

func (q *arangoQuerier) Query(ctx context.Context, aql string, bindVars map[string]interface{}) ([]map[string]interface{}, error) {
	cursor, err := q.db.Query(ctx, aql, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var rows []map[string]interface{}
	for cursor.HasMore() {
		var doc map[string]interface{}
		if _, err := cursor.ReadDocument(ctx, &doc); err != nil {
			return nil, err
		}
		rows = append(rows, doc)
	}
	return rows, nil
}
