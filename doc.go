/*
Package cloudfetch reads Databricks SQL query results delivered as Arrow IPC
chunks, either inline in the statement response or through short lived
pre-signed links ("cloud fetch").

# Usage

Build a result stream from the manifest of a finished statement and iterate
its rows:

	import (
		cloudfetch "github.com/databricks/databricks-sql-go-cloudfetch"
	)

	func main() {
		rc, err := cloudfetch.NewRestClient(<host>, <token>)
		if err != nil {
			log.Fatal(err)
		}

		manifest, err := rc.GetResultManifest(ctx, <statement_id>)
		if err != nil {
			log.Fatal(err)
		}

		rs, err := cloudfetch.NewResultStream(ctx, manifest, rc)
		if err != nil {
			log.Fatal(err)
		}
		defer rs.Close()

		for {
			ok, err := rs.Next()
			if err != nil {
				log.Fatal(err)
			}
			if !ok {
				break
			}
			v, _ := rs.GetObject(0)
			fmt.Println(v)
		}
	}

Chunks are downloaded by a pool of workers. While the rows of chunk i are
read, chunks i+1 to i+MaxDownloadThreads are downloaded in the background.
A chunk is released as soon as its last row was read, so at most
MaxDownloadThreads+1 chunks are held in memory. Links that expire within
MinTimeToExpiry are refreshed through the LinkResolver before downloading.

Results returned inline are read with NewInlineResultStream.

# Arrow batches

The records of a result can be read directly instead of row by row:

	batches, err := rs.GetArrowBatches(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer batches.Close()

	for batches.HasNext() {
		r, err := batches.Next()
		if err != nil {
			log.Fatal(err)
		}
		// use the record
		r.Release()
	}

Rows and batches cannot be read from the same stream.

# Options

Supported functional options include:

  - WithMaxDownloadThreads(<n> int): Sets the number of parallel downloads and the prefetch window. Default is 10
  - WithMaxChunkDownloadRetries(<n> int): Sets the download attempts per chunk. Default is 3
  - WithMinTimeToExpiry(<d> time.Duration): Links expiring within d are refreshed. Default is 60s
  - WithLz4Compression(<b> bool): Overrides the compression flag of the result
  - WithRetries(<max> int, <min> time.Duration, <max> time.Duration): Sets the HTTP retry policy. Default is 4 retries, 1s to 30s
  - WithDownloadTimeout(<d> time.Duration): Sets the timeout of a download attempt. Default is no timeout
  - WithSpeedThreshold(<mbps> float64): Logs downloads slower than mbps MB/s. Default is 0.1
  - WithHTTPClient(<c> *http.Client): Sets the client used to download chunks
  - WithAllocator(<a> memory.Allocator): Sets the arrow allocator
  - WithClock(<c> clockwork.Clock): Sets the clock used to check link expiry
  - WithHeartbeat(<d> time.Duration, <p> driver.Pinger): Pings the server operation while the stream is open
  - WithEnv(): Applies the DBSQL_CLOUDFETCH_* environment variables
  - WithParams(<params> map[string]string): Applies DSN style parameters

# Errors

A chunk that cannot be produced fails the stream with an error implementing
errors.DBChunkError. Use errors.Is with errors.ChunkDownloadFailure,
errors.ChunkParseFailure or errors.Cancelled to find out why.

# Logging

Logging uses the logger package. Set the level with logger.SetLogLevel, e.g.
"debug" to follow the download of every chunk.
*/
package cloudfetch
