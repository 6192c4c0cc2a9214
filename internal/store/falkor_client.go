package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/FalkorDB/falkordb-go/v2"
	"github.com/moolen/tailwatch/internal/logging"
)

// GraphQuery is a parameterized Cypher query.
type GraphQuery struct {
	Query      string
	Parameters map[string]interface{}
	// Timeout in milliseconds, 0 for the server default.
	Timeout int
}

// QueryResult is the tabular result of a GraphQuery.
type QueryResult struct {
	Columns []string
	Rows    [][]interface{}
	Stats   QueryStats
}

// QueryStats holds the write statistics reported by the server.
type QueryStats struct {
	NodesCreated  int
	NodesDeleted  int
	PropertiesSet int
	ExecutionTime time.Duration
}

// GraphClient is the subset of FalkorDB the store needs.
type GraphClient interface {
	Connect(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error
	ExecuteQuery(ctx context.Context, query GraphQuery) (*QueryResult, error)
	InitializeSchema(ctx context.Context) error
	DeleteGraph(ctx context.Context) error
}

// FalkorConfig holds connection settings for FalkorDB.
type FalkorConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	GraphName    string        `yaml:"graph"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// DefaultFalkorConfig returns the default connection settings.
func DefaultFalkorConfig() FalkorConfig {
	return FalkorConfig{
		Host:         "localhost",
		Port:         6379,
		GraphName:    "tailwatch",
		MaxRetries:   3,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
	}
}

type falkorClient struct {
	config FalkorConfig
	logger *logging.Logger
	db     *falkordb.FalkorDB
	graph  *falkordb.Graph
}

// NewFalkorClient returns an unconnected FalkorDB client.
func NewFalkorClient(config FalkorConfig) GraphClient {
	return &falkorClient{
		config: config,
		logger: logging.GetLogger("store.falkordb"),
	}
}

func (c *falkorClient) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	c.logger.Info("Connecting to FalkorDB at %s (graph: %s)", addr, c.config.GraphName)

	db, err := falkordb.FalkorDBNew(&falkordb.ConnectionOption{
		Addr:         addr,
		Password:     c.config.Password,
		DialTimeout:  c.config.DialTimeout,
		ReadTimeout:  c.config.ReadTimeout,
		WriteTimeout: c.config.WriteTimeout,
		PoolSize:     c.config.PoolSize,
		MaxRetries:   c.config.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to create FalkorDB client: %w", err)
	}
	c.db = db
	c.graph = db.SelectGraph(c.config.GraphName)
	return nil
}

func (c *falkorClient) Close() error {
	if c.db != nil && c.db.Conn != nil {
		return c.db.Conn.Close()
	}
	return nil
}

func (c *falkorClient) Ping(ctx context.Context) error {
	_, err := c.ExecuteQuery(ctx, GraphQuery{Query: "RETURN 1"})
	return err
}

func (c *falkorClient) ExecuteQuery(ctx context.Context, query GraphQuery) (*QueryResult, error) {
	if c.graph == nil {
		return nil, fmt.Errorf("client not connected")
	}

	var options *falkordb.QueryOptions
	if query.Timeout > 0 {
		options = falkordb.NewQueryOptions().SetTimeout(query.Timeout)
	}

	start := time.Now()
	result, err := c.graph.Query(query.Query, query.Parameters, options)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}

	qr := &QueryResult{}
	first := true
	for result.Next() {
		record := result.Record()
		if first {
			qr.Columns = record.Keys()
			first = false
		}
		qr.Rows = append(qr.Rows, record.Values())
	}
	qr.Stats = QueryStats{
		NodesCreated:  result.NodesCreated(),
		NodesDeleted:  result.NodesDeleted(),
		PropertiesSet: result.PropertiesSet(),
		ExecutionTime: time.Since(start),
	}
	return qr, nil
}

// InitializeSchema creates the lookup indexes. Existing indexes are not an
// error.
func (c *falkorClient) InitializeSchema(ctx context.Context) error {
	indexes := []string{
		"CREATE INDEX FOR (c:Calibration) ON (c.metric)",
		"CREATE INDEX FOR (c:Calibration) ON (c.host)",
		"CREATE INDEX FOR (a:Anomaly) ON (a.metric)",
		"CREATE INDEX FOR (a:Anomaly) ON (a.host)",
		"CREATE INDEX FOR (a:Anomaly) ON (a.timestamp)",
	}
	for _, q := range indexes {
		if _, err := c.ExecuteQuery(ctx, GraphQuery{Query: q}); err != nil {
			c.logger.Debug("index not created (may already exist): %v", err)
		}
	}
	return nil
}

// DeleteGraph removes the graph. A missing graph is not an error.
func (c *falkorClient) DeleteGraph(ctx context.Context) error {
	if c.graph == nil {
		return fmt.Errorf("client not connected")
	}
	if err := c.graph.Delete(); err != nil && !strings.Contains(err.Error(), "empty key") {
		return fmt.Errorf("failed to delete graph: %w", err)
	}
	c.graph = c.db.SelectGraph(c.config.GraphName)
	return nil
}
