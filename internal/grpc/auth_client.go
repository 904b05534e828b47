package grpc

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"ride-chat-sync/internal/observability"
)

const (
	validateTokenMethod = "/auth.AuthService/ValidateToken"
	getUserMethod       = "/auth.AuthService/GetUser"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUserNotFound = errors.New("user not found")
)

// Dial opens an insecure, traced connection to the identity service.
func Dial(addr string) (*gogrpc.ClientConn, error) {
	return gogrpc.Dial(addr,
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		gogrpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
}

// AuthClient talks to the identity service. Requests and replies are
// google.protobuf.Struct messages.
type AuthClient struct {
	conn gogrpc.ClientConnInterface
}

// NewAuthClient constructs the wrapper.
func NewAuthClient(conn gogrpc.ClientConnInterface) *AuthClient {
	return &AuthClient{conn: conn}
}

// ValidateToken verifies the bearer token and returns the participant id it belongs to.
func (a *AuthClient) ValidateToken(ctx context.Context, token string) (string, error) {
	resp, err := a.call(ctx, validateTokenMethod, map[string]interface{}{"token": token})
	if err != nil {
		return "", err
	}
	id := idField(resp, "user_id")
	if !resp.GetFields()["valid"].GetBoolValue() || id == "" {
		return "", ErrInvalidToken
	}
	return id, nil
}

// DisplayName fetches the name shown for a participant in notifications.
func (a *AuthClient) DisplayName(ctx context.Context, participantID string) (string, error) {
	resp, err := a.call(ctx, getUserMethod, map[string]interface{}{"user_id": participantID})
	if err != nil {
		return "", err
	}
	if idField(resp, "id") == "" {
		return "", ErrUserNotFound
	}
	if name := resp.GetFields()["display_name"].GetStringValue(); name != "" {
		return name, nil
	}
	return resp.GetFields()["username"].GetStringValue(), nil
}

func (a *AuthClient) call(ctx context.Context, method string, fields map[string]interface{}) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, method, req, resp); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return resp, nil
}

// idField accepts ids sent either as strings or as whole numbers.
func idField(s *structpb.Struct, key string) string {
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		if k.NumberValue <= 0 {
			return ""
		}
		return strconv.FormatInt(int64(k.NumberValue), 10)
	}
	return ""
}
