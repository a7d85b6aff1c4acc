package requestdata

import (
	"context"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

type key struct{}

var requestDataKey key

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	val := ctx.Value(requestDataKey)
	if rd, ok := val.(*RequestData); ok {
		return rd
	}
	return nil
}

type RequestData struct {
	TokenString string
	Identity    *types.Identity
}

// IdentityFrom returns the authenticated identity or nil.
func IdentityFrom(ctx context.Context) *types.Identity {
	rd := GetRequestData(ctx)
	if rd == nil {
		return nil
	}
	return rd.Identity
}
