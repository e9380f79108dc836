package client

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// NewSharedLinkResolver wraps a LinkResolver so that concurrent requests for
// the same statement and chunk share one call.
func NewSharedLinkResolver(resolver LinkResolver) LinkResolver {
	if sr, ok := resolver.(*sharedLinkResolver); ok {
		return sr
	}
	return &sharedLinkResolver{resolver: resolver}
}

type sharedLinkResolver struct {
	resolver LinkResolver
	group    singleflight.Group
}

var _ LinkResolver = (*sharedLinkResolver)(nil)

func (sr *sharedLinkResolver) GetChunkLinks(ctx context.Context, statementId string, chunkIndex int) ([]*ChunkLink, error) {
	key := fmt.Sprintf("%s/%d", statementId, chunkIndex)
	v, err, _ := sr.group.Do(key, func() (interface{}, error) {
		return sr.resolver.GetChunkLinks(ctx, statementId, chunkIndex)
	})
	if err != nil {
		return nil, err
	}

	links, _ := v.([]*ChunkLink)
	return links, nil
}
