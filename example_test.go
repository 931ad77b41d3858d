package trino_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	trino "github.com/sergeytiron/trino-go"
)

// =============================================================================
// Getting Started Examples
//
// These tests serve as executable documentation showing how to use trino-go.
// They are skipped by default because they require a running Trino/Presto
// server.
// =============================================================================

const trinoURL = "http://localhost:8080"

// --- database/sql Interface ---

func TestExample_DatabaseSQL_BasicQuery(t *testing.T) {
	t.Skip("requires a running Trino server")

	db, err := sql.Open("trino", "trino://localhost:8080/hive/default")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	rows, err := db.QueryContext(context.Background(), "SELECT 1 AS id, 'hello' AS greeting")
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var greeting string
		if err := rows.Scan(&id, &greeting); err != nil {
			log.Fatal(err)
		}
		fmt.Println(id, greeting)
	}
}

func TestExample_DatabaseSQL_Parameters(t *testing.T) {
	t.Skip("requires a running Trino server")

	db, err := sql.Open("trino", "trino://localhost:8080/hive/default")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	// Parameterized queries run through server-side PREPARE and EXECUTE;
	// values never get pasted into the SQL text.
	rows, err := db.QueryContext(context.Background(),
		"SELECT * FROM users WHERE name = ? AND active = ?",
		"alice", true,
	)
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()

	for rows.Next() {
		// scan columns...
		_ = rows
	}
}

func TestExample_DatabaseSQL_Transactions(t *testing.T) {
	t.Skip("requires a running Trino server")

	db, err := sql.Open("trino", "trino://localhost:8080/hive/default")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Fatal(err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO audit VALUES (1, 'start')"); err != nil {
		tx.Rollback()
		log.Fatal(err)
	}

	tx.Commit()
}

func TestExample_DatabaseSQL_TLS(t *testing.T) {
	t.Skip("requires a running Trino server with TLS")

	// Custom CA certificate
	_, _ = sql.Open("trino", "trino://host:8443/catalog?ssl_ca=/path/ca.pem")

	// Mutual TLS (client certificate)
	_, _ = sql.Open("trino", "trino://host:8443/catalog?ssl_cert=/path/cert.pem&ssl_key=/path/key.pem&ssl_ca=/path/ca.pem")

	// Skip verification (development only)
	_, _ = sql.Open("trino", "trino://host:8443/catalog?ssl_skip_verify=true")
}

func TestExample_DatabaseSQL_ConnectorOptions(t *testing.T) {
	t.Skip("requires a running Trino server")

	// Use sql.OpenDB with a Connector for programmatic configuration.
	connector, err := trino.NewConnector("trino://localhost:8080/hive/default",
		trino.WithSessionSetup(func(s *trino.Session) {
			s.SessionParam("query_max_memory", "2GB")
		}),
	)
	if err != nil {
		log.Fatal(err)
	}
	db := sql.OpenDB(connector)
	defer db.Close()

	var n int64
	db.QueryRowContext(context.Background(), "SELECT 42").Scan(&n)
	fmt.Println(n)
}

func TestExample_DatabaseSQL_Presto(t *testing.T) {
	t.Skip("requires a running Presto server")

	// Use the presto:// scheme to switch to the legacy X-Presto-* headers.
	db, err := sql.Open("trino", "presto://localhost:8080/hive/default")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	var greeting string
	db.QueryRowContext(context.Background(), "SELECT 'hello from presto'").Scan(&greeting)
	fmt.Println(greeting)
}

// --- Low-Level API ---

func TestExample_LowLevel_BasicQuery(t *testing.T) {
	t.Skip("requires a running Trino server")

	client, err := trino.NewClient(trinoURL)
	if err != nil {
		log.Fatal(err)
	}

	session := client.NewSession()
	session.Catalog("hive").Schema("default")

	ctx := context.Background()
	results, _, err := session.Query(ctx, "select count(*) from orders")
	if err != nil {
		log.Fatal(err)
	}

	// Drain streams all batches, calling the handler for each batch.
	// Data is cleared after the handler returns, keeping memory usage low.
	err = results.Drain(ctx, func(qr *trino.QueryResults) error {
		for _, row := range qr.Data {
			var parsed []any
			json.Unmarshal(row, &parsed)
			fmt.Println(parsed)
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}
}

func TestExample_LowLevel_TypedRows(t *testing.T) {
	t.Skip("requires a running Trino server")

	client, err := trino.NewClient(trinoURL)
	if err != nil {
		log.Fatal(err)
	}
	session := client.NewSession().Catalog("hive").Schema("default")

	ctx := context.Background()

	// Submit returns a statement handle; its cursor decodes values to Go
	// types according to the column metadata.
	cursor, err := session.SubmitCursor(ctx, "SELECT orderkey, totalprice FROM orders")
	if err != nil {
		log.Fatal(err)
	}
	defer cursor.Close()

	for {
		row, err := cursor.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		orderkey := row[0].(int64)
		totalprice := row[1].(float64)
		fmt.Println(orderkey, totalprice)
	}
}

func TestExample_LowLevel_BatchFetching(t *testing.T) {
	t.Skip("requires a running Trino server")

	client, err := trino.NewClient(trinoURL)
	if err != nil {
		log.Fatal(err)
	}

	session := client.NewSession()
	session.Catalog("hive").Schema("default")

	ctx := context.Background()
	results, _, err := session.Query(ctx, "SELECT * FROM large_table")
	if err != nil {
		log.Fatal(err)
	}

	// Manual batch-by-batch fetching for full control.
	totalRows := 0
	for results.HasMoreBatch() {
		if err := results.FetchNextBatch(ctx); err != nil {
			log.Fatal(err)
		}
		totalRows += len(results.Data)
		fmt.Printf("Fetched batch: %d rows (total: %d)\n", len(results.Data), totalRows)
	}
}

func TestExample_LowLevel_SessionIsolation(t *testing.T) {
	t.Skip("requires a running Trino server")

	client, err := trino.NewClient(trinoURL)
	if err != nil {
		log.Fatal(err)
	}

	// Configure the default session on the client.
	client.User("default_user").Catalog("hive")

	// Create isolated sessions for different workloads.
	// Each session maintains independent state (catalog, schema, user, params).
	etlSession := client.NewSession()
	etlSession.Schema("staging").User("etl_service")
	etlSession.SessionParam("query_max_memory", "8GB")

	analyticsSession := client.NewSession()
	analyticsSession.Schema("production").User("analyst")
	analyticsSession.SessionParam("query_max_memory", "2GB")

	// Clone a session for a one-off workload.
	tempSession := etlSession.Clone()
	tempSession.Schema("temp")

	_ = analyticsSession
	_ = tempSession
}

func TestExample_LowLevel_PreparedStatements(t *testing.T) {
	t.Skip("requires a running Trino server")

	client, err := trino.NewClient(trinoURL)
	if err != nil {
		log.Fatal(err)
	}
	session := client.NewSession().Catalog("hive").Schema("default")

	ctx := context.Background()

	// Prepare once, execute many times with different parameters. If the
	// server forgets the statement (e.g. after a coordinator restart), it
	// is re-prepared transparently.
	ps, err := session.Prepare(ctx, "find_user", "SELECT * FROM users WHERE id = ?")
	if err != nil {
		log.Fatal(err)
	}
	defer ps.Deallocate(ctx)

	for _, id := range []int64{1, 2, 3} {
		st, err := ps.Execute(ctx, id)
		if err != nil {
			log.Fatal(err)
		}
		cursor := st.Cursor()
		for {
			row, err := cursor.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				log.Fatal(err)
			}
			fmt.Println(row)
		}
	}
}

func TestExample_LowLevel_Cancellation(t *testing.T) {
	t.Skip("requires a running Trino server")

	client, err := trino.NewClient(trinoURL)
	if err != nil {
		log.Fatal(err)
	}
	session := client.NewSession().Catalog("hive").Schema("default")

	// A session-level query timeout bounds the whole poll loop; exceeding
	// it surfaces a *trino.TimeoutError and cancels the query server-side.
	session.QueryTimeout(30 * time.Second)

	ctx := context.Background()
	st, err := session.Submit(ctx, "SELECT * FROM very_large_table")
	if err != nil {
		log.Fatal(err)
	}

	for {
		page, err := st.Advance(ctx)
		if err != nil {
			// Explicit st.Cancel() from another goroutine surfaces here as
			// a *trino.CancellationError.
			fmt.Println("Query stopped:", err)
			break
		}
		if page == nil {
			break
		}
		fmt.Printf("Processing %d rows\n", len(page.Data))
	}
}

func TestExample_LowLevel_ClusterInfo(t *testing.T) {
	t.Skip("requires a running Trino server")

	client, err := trino.NewClient(trinoURL)
	if err != nil {
		log.Fatal(err)
	}
	session := client.NewSession()

	ctx := context.Background()
	stats, _, err := session.GetClusterInfo(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Active workers: %d\n", stats.ActiveWorkers)
	fmt.Printf("Running queries: %d\n", stats.RunningQueries)
	fmt.Printf("Queued queries: %d\n", stats.QueuedQueries)
	fmt.Printf("Blocked queries: %d\n", stats.BlockedQueries)
}

func TestExample_LowLevel_QueryInfo(t *testing.T) {
	t.Skip("requires a running Trino server")

	client, err := trino.NewClient(trinoURL)
	if err != nil {
		log.Fatal(err)
	}
	session := client.NewSession().Catalog("hive").Schema("default")

	ctx := context.Background()

	// List queries for a specific user.
	user := "analyst"
	queries, _, err := session.ListQueries(ctx, &trino.ListQueriesOptions{User: &user})
	if err != nil {
		log.Fatal(err)
	}
	for _, q := range queries {
		fmt.Printf("Query %s: %s (created %s)\n", q.QueryId, q.State, q.CreateTime)
	}

	// Fetch detailed query info (stats, stages, operators) for one of them,
	// normalized: the stage tree flattened and derived metrics computed.
	if len(queries) > 0 {
		info, _, err := session.GetQueryInfo(ctx, queries[0].QueryId, true)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Query %s: state=%s stages=%d\n", info.QueryId, info.State, len(info.Stages))
	}
}

func TestExample_LowLevel_RequestOptions(t *testing.T) {
	t.Skip("requires a running Trino server")

	client, err := trino.NewClient(trinoURL)
	if err != nil {
		log.Fatal(err)
	}
	session := client.NewSession().Catalog("hive").Schema("default")

	// Persistent request options apply to every request from this session,
	// including batch fetches. This is how auth modules inject tokens.
	session.RequestOptions(func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer my-token")
	})

	ctx := context.Background()
	results, _, err := session.Query(ctx, "SELECT 1")
	if err != nil {
		log.Fatal(err)
	}
	// The Authorization header is also sent on all subsequent batch fetches.
	results.Drain(ctx, nil)
}
