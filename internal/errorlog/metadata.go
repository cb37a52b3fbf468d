package errorlog

import "context"

// Metadata is ambient information captured with every record.
type Metadata struct {
	UserAgent string
	URL       string
}

type metadataKey struct{}

// ContextWithMetadata attaches request-scoped metadata to ctx.
func ContextWithMetadata(ctx context.Context, md Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

// MetadataFromContext returns metadata attached with ContextWithMetadata.
func MetadataFromContext(ctx context.Context) (Metadata, bool) {
	md, ok := ctx.Value(metadataKey{}).(Metadata)
	return md, ok
}

func (m Metadata) merge(override Metadata) Metadata {
	if override.UserAgent != "" {
		m.UserAgent = override.UserAgent
	}
	if override.URL != "" {
		m.URL = override.URL
	}
	return m
}
