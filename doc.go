// Package trino provides a Go client library for Trino and Presto SQL query engines.
//
// The client communicates with coordinators via the statement REST API,
// supporting query submission, incremental result streaming, typed value
// decoding, session state tracking, prepared statements, and a database/sql
// driver.
//
// # Getting Started
//
// Create a client and execute a query:
//
//	client, err := trino.NewClient("http://trino-coordinator:8080", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	session := client.NewSession()
//	session.Catalog("hive").Schema("default")
//
//	results, _, err := session.Query(ctx, "SELECT * FROM my_table")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Sessions
//
// Sessions provide isolated execution contexts with their own catalog, schema,
// user identity, transaction state, and session parameters. Sessions are
// thread-safe and can be cloned for parallel workloads:
//
//	s1 := client.NewSession().Catalog("hive").Schema("prod")
//	s2 := s1.Clone().Schema("staging")
//
// Server-directed state changes (SET SESSION, USE, transaction headers,
// prepared statements) are folded back into the session automatically.
//
// # Result Streaming
//
// Large result sets arrive in pages. Use Drain for memory-efficient batch
// processing, FetchNextBatch for manual paging, or Submit and the returned
// StatementClient for a managed poll loop with typed row iteration:
//
//	st, err := session.Submit(ctx, "SELECT orderkey, totalprice FROM orders")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cursor := st.Cursor()
//	defer cursor.Close()
//	for {
//	    row, err := cursor.Next(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    // row values carry Go types matching the column types
//	}
//
// # Presto Compatibility
//
// The client supports both Trino and Presto by translating protocol headers:
//
//	client.IsPresto(true)
package trino
