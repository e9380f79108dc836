package cloudfetch

import (
	"context"

	"github.com/databricks/databricks-sql-go-cloudfetch/driverctx"
	dbsqlerr "github.com/databricks/databricks-sql-go-cloudfetch/errors"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/client"
	dbsqlerrint "github.com/databricks/databricks-sql-go-cloudfetch/internal/errors"
	dbsqlrows "github.com/databricks/databricks-sql-go-cloudfetch/internal/rows"
	"github.com/databricks/databricks-sql-go-cloudfetch/internal/rows/arrowbased"
	"github.com/databricks/databricks-sql-go-cloudfetch/rows"
)

type (
	ResultManifest = client.ResultManifest
	ChunkInfo      = client.ChunkInfo
	ChunkLink      = client.ChunkLink
	InlineResult   = client.InlineResult
	InlineBatch    = client.InlineBatch
	ColumnDesc     = client.ColumnDesc
	ColumnType     = client.ColumnType
	LinkResolver   = client.LinkResolver
	RestClient     = client.RestClient
)

// NewRestClient returns a LinkResolver backed by the statement execution
// REST API of the workspace at host.
func NewRestClient(host, accessToken string) (*RestClient, error) {
	return client.InitRestClient(host, accessToken)
}

// NewResultStream streams a result whose chunks are downloaded from
// pre-signed links. resolver is called for chunks the manifest has no
// valid link for. Downloads start with the first call to Next.
func NewResultStream(ctx context.Context, manifest *ResultManifest, resolver LinkResolver, opts ...Option) (rows.ResultStream, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if manifest == nil {
		return nil, dbsqlerrint.NewDriverError(ctx, dbsqlerr.ErrUnsupportedResultManifest, nil)
	}

	o := newOptions(opts)
	if o.err != nil {
		return nil, dbsqlerrint.NewDriverError(ctx, "invalid cloud fetch options", o.err)
	}

	if driverctx.QueryIdFromContext(ctx) == "" && manifest.StatementId != "" {
		ctx = driverctx.NewContextWithQueryId(ctx, manifest.StatementId)
	}

	m, err := arrowbased.NewChunkDownloadManager(ctx, manifest, resolver, o.httpClient, o.cfg, o.pinger)
	if err != nil {
		return nil, err
	}

	return dbsqlrows.NewResultStream(ctx, m, false, manifest.TotalRowCount), nil
}

// NewInlineResultStream streams a result returned inline. The batches are
// decoded before returning.
func NewInlineResultStream(ctx context.Context, inline *InlineResult, opts ...Option) (rows.ResultStream, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	o := newOptions(opts)
	if o.err != nil {
		return nil, dbsqlerrint.NewDriverError(ctx, "invalid cloud fetch options", o.err)
	}

	ice, err := arrowbased.NewInlineChunkExtractor(ctx, inline, o.cfg)
	if err != nil {
		return nil, err
	}

	return dbsqlrows.NewResultStream(ctx, ice, true, inline.RowCount()), nil
}

// ParseColumnType maps a server type name such as "BIGINT" or
// "TIMESTAMP" to a ColumnType.
func ParseColumnType(name string) ColumnType {
	return client.ParseColumnType(name)
}
