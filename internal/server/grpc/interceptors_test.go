package grpcserver

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "10.0.0.7:50123" }

var checkInfo = &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

func TestLoggingUnary_LevelFollowsCode(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ic := LoggingUnary(zap.New(core))
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})

	resp, err := ic(ctx, "req", checkInfo, func(context.Context, any) (any, error) { return "ok", nil })
	if err != nil || resp != "ok" {
		t.Fatalf("passthrough: %v %v", resp, err)
	}

	notFound := status.Error(codes.NotFound, "unknown service")
	if _, err := ic(ctx, "req", checkInfo, func(context.Context, any) (any, error) { return nil, notFound }); !errors.Is(err, notFound) {
		t.Fatalf("want original error, got: %v", err)
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("want 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("levels: %v, %v", entries[0].Level, entries[1].Level)
	}
	f := entries[1].ContextMap()
	if f["method"] != checkInfo.FullMethod || f["code"] != codes.NotFound.String() || f["peer"] != "10.0.0.7:50123" {
		t.Fatalf("fields: %v", f)
	}
}

func TestLoggingUnary_NoPeer(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ic := LoggingUnary(zap.New(core))
	if _, err := ic(context.Background(), nil, checkInfo, func(context.Context, any) (any, error) { return nil, nil }); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := logs.All()[0].ContextMap()["peer"]; got != "" {
		t.Fatalf("peer should be empty, got %v", got)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	_, err := ic(context.Background(), "req", checkInfo, func(context.Context, any) (any, error) {
		panic("probe exploded")
	})
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	resp, err := ic(context.Background(), "req", checkInfo, func(context.Context, any) (any, error) { return 42, nil })
	if err != nil || resp.(int) != 42 {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
}
