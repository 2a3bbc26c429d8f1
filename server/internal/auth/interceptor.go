package auth

import (
	"context"
	"crypto/subtle"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// APIKeyInterceptor rejects unary calls whose metadata lacks the configured
// key. Full method names listed in open are let through unchecked.
//
// If mode != "apikey" or key == "", all calls are allowed. Otherwise the
// value of header in the incoming metadata must equal key; a missing, empty
// or incorrect key returns codes.Unauthenticated.
//
// header should be lowercase; gRPC normalises metadata keys that way.
func APIKeyInterceptor(mode, header, key string, open ...string) grpc.UnaryServerInterceptor {
	enforce := mode == "apikey" && key != ""
	skip := methodSet(open)
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if enforce && !skip[info.FullMethod] {
			if err := checkKey(ctx, header, key); err != nil {
				return nil, err
			}
		}
		return handler(ctx, req)
	}
}

// APIKeyStreamInterceptor is the streaming form of APIKeyInterceptor. The
// health service's Watch is a stream, so both are installed.
func APIKeyStreamInterceptor(mode, header, key string, open ...string) grpc.StreamServerInterceptor {
	enforce := mode == "apikey" && key != ""
	skip := methodSet(open)
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if enforce && !skip[info.FullMethod] {
			if err := checkKey(ss.Context(), header, key); err != nil {
				return err
			}
		}
		return handler(srv, ss)
	}
}

func checkKey(ctx context.Context, header, key string) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(header)
	if len(vals) == 0 || subtle.ConstantTimeCompare([]byte(vals[0]), []byte(key)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}

func methodSet(methods []string) map[string]bool {
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	return set
}
