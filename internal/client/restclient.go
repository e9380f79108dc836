package client

import (
	"context"
	"time"

	dbclient "github.com/databricks/databricks-sdk-go/client"
	sdkcfg "github.com/databricks/databricks-sdk-go/config"
	sqlexec "github.com/databricks/databricks-sdk-go/service/sql"
	dbsqlerr "github.com/databricks/databricks-sql-go-cloudfetch/errors"
	dbsqlerrint "github.com/databricks/databricks-sql-go-cloudfetch/internal/errors"
	dbsqllog "github.com/databricks/databricks-sql-go-cloudfetch/logger"
	"github.com/pkg/errors"
)

// statementExecution is the subset of the SDK statement execution API used
// to read results.
type statementExecution interface {
	GetStatement(ctx context.Context, request sqlexec.GetStatementRequest) (*sqlexec.GetStatementResponse, error)
	GetStatementResultChunkN(ctx context.Context, request sqlexec.GetStatementResultChunkNRequest) (*sqlexec.ResultData, error)
}

// RestClient resolves manifests and chunk links through the Databricks SQL
// statement execution REST API.
type RestClient struct {
	api statementExecution
}

var _ LinkResolver = (*RestClient)(nil)

func InitRestClient(host, accessToken string) (*RestClient, error) {
	c, err := dbclient.New(&sdkcfg.Config{
		Host:  host,
		Token: accessToken,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error initializing statement execution client")
	}
	api := sqlexec.NewStatementExecution(c)
	return &RestClient{
		api: api,
	}, nil
}

// GetChunkLinks returns the external links of chunk chunkIndex and of any
// following chunks the server chose to include.
func (rc *RestClient) GetChunkLinks(ctx context.Context, statementId string, chunkIndex int) ([]*ChunkLink, error) {
	msg, start := dbsqllog.Logger.Track("GetStatementResultChunkN")
	defer dbsqllog.Logger.Duration(msg, start)

	resp, err := rc.api.GetStatementResultChunkN(ctx, sqlexec.GetStatementResultChunkNRequest{
		StatementId: statementId,
		ChunkIndex:  chunkIndex,
	})
	if err != nil {
		return nil, dbsqlerrint.NewRequestError(ctx, dbsqlerr.ErrChunkLinkFetch, err)
	}

	return toChunkLinks(resp)
}

// GetResultManifest reads the manifest of a finished statement. Links
// returned with the first chunk are kept so the first download does not
// need an extra round trip.
func (rc *RestClient) GetResultManifest(ctx context.Context, statementId string) (*ResultManifest, error) {
	resp, err := rc.api.GetStatement(ctx, sqlexec.GetStatementRequest{
		StatementId: statementId,
	})
	if err != nil {
		return nil, dbsqlerrint.NewRequestError(ctx, "failed to get statement result manifest", err)
	}

	manifest := &ResultManifest{StatementId: statementId}
	if resp.Manifest != nil {
		manifest.TotalChunkCount = int(resp.Manifest.TotalChunkCount)
		manifest.TotalRowCount = int64(resp.Manifest.TotalRowCount)
		for i := range resp.Manifest.Chunks {
			c := resp.Manifest.Chunks[i]
			manifest.Chunks = append(manifest.Chunks, &ChunkInfo{
				ChunkIndex: int(c.ChunkIndex),
				RowOffset:  int64(c.RowOffset),
				RowCount:   int64(c.RowCount),
				ByteCount:  int64(c.ByteCount),
			})
		}
	}

	if resp.Result != nil {
		links, err := toChunkLinks(resp.Result)
		if err != nil {
			return nil, err
		}
		manifest.Links = links
	}

	return manifest, nil
}

func toChunkLinks(rd *sqlexec.ResultData) ([]*ChunkLink, error) {
	if rd == nil {
		return nil, nil
	}

	links := make([]*ChunkLink, 0, len(rd.ExternalLinks))
	for i := range rd.ExternalLinks {
		el := rd.ExternalLinks[i]

		expiry, err := time.Parse(time.RFC3339, el.Expiration)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid expiration %q for chunk %d", el.Expiration, el.ChunkIndex)
		}

		link := &ChunkLink{
			ChunkIndex: int(el.ChunkIndex),
			RowOffset:  int64(el.RowOffset),
			RowCount:   int64(el.RowCount),
			ByteCount:  int64(el.ByteCount),
			URL:        el.ExternalLink,
			ExpiryTime: expiry,
		}

		// the API omits next_chunk_index on the last chunk, the internal
		// link is the reliable marker
		if el.NextChunkInternalLink != "" {
			next := int(el.NextChunkIndex)
			link.NextChunkIndex = &next
		}

		links = append(links, link)
	}

	return links, nil
}
