package api

import (
	"context"
	"net"
	"testing"
	"time"

	"tintbook/internal/config"
	"tintbook/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func startGRPC(t *testing.T, cfg config.APIConfig, env *apiEnv) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv, err := NewGRPCServer(cfg, env.agg, nil, lis, testLogger())
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func dayStruct(t *testing.T, date string, duration float64) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(map[string]any{"date": date, "duration_hours": duration})
	require.NoError(t, err)
	return req
}

func TestGRPC_GetBookableTimes(t *testing.T) {
	env := newAPIEnv(t, "A")
	client := NewSlotServiceClient(startGRPC(t, openAPIConfig(), env))
	ctx := context.Background()

	_, _, err := env.bookings.CreateAppointment(ctx, service.CreateAppointmentInput{
		Date: testDate, StartTime: "10:00", DurationHours: 2, CustomerName: "Ivan", CustomerPhone: "1",
	})
	require.NoError(t, err)

	resp, err := client.GetBookableTimes(ctx, dayStruct(t, testDate, 2))
	require.NoError(t, err)
	fields := resp.GetFields()
	assert.Equal(t, testDate, fields["date"].GetStringValue())
	times := fields["times"].GetListValue().AsSlice()
	assert.Len(t, times, 25)
	assert.Equal(t, "12:00", times[0])
}

func TestGRPC_GetDayStatus(t *testing.T) {
	env := newAPIEnv(t, "A", "B")
	client := NewSlotServiceClient(startGRPC(t, openAPIConfig(), env))

	resp, err := client.GetDayStatus(context.Background(), dayStruct(t, testDate, 0))
	require.NoError(t, err)
	fields := resp.GetFields()
	assert.False(t, fields["fully_booked"].GetBoolValue())
	assert.Equal(t, float64(2), fields["free_staff"].GetNumberValue())
	assert.Equal(t, float64(2), fields["duration_hours"].GetNumberValue())
	assert.Len(t, fields["bookable"].GetListValue().GetValues(), 37)
}

func TestGRPC_InvalidArgument(t *testing.T) {
	client := NewSlotServiceClient(startGRPC(t, openAPIConfig(), newAPIEnv(t, "A")))

	_, err := client.GetBookableTimes(context.Background(), &structpb.Struct{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetDayStatus(context.Background(), dayStruct(t, "June 10", 0))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetBookableTimes(context.Background(), dayStruct(t, testDate, -1))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_Auth(t *testing.T) {
	conn := startGRPC(t, authAPIConfig(), newAPIEnv(t, "A"))
	client := NewSlotServiceClient(conn)

	_, err := client.GetBookableTimes(context.Background(), dayStruct(t, testDate, 0))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "front-desk", "x-api-extra", "s3cret")
	var header metadata.MD
	_, err = client.GetBookableTimes(ctx, dayStruct(t, testDate, 0), grpc.Header(&header))
	require.NoError(t, err)
	assert.NotEmpty(t, header.Get(requestIDMetadataKey))

	// health открыт без ключа
	hc, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: slotServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.GetStatus())
}

func TestGRPC_PermissionDenied(t *testing.T) {
	cfg := authAPIConfig()
	cfg.Auth.APIKeys = append(cfg.Auth.APIKeys, config.APIClientKey{Key: "bot", Extra: "x", Permissions: []string{PermWriteAppointments}})
	client := NewSlotServiceClient(startGRPC(t, cfg, newAPIEnv(t, "A")))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "bot", "x-api-extra", "x")
	_, err := client.GetDayStatus(ctx, dayStruct(t, testDate, 0))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestRecoveryUnaryInterceptor(t *testing.T) {
	rec := RecoveryUnaryInterceptor(testLogger())
	_, err := rec(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: methodGetDayStatus}, func(context.Context, any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestBuildTLSConfig_Validation(t *testing.T) {
	_, err := serverTLSConfig(config.APITLSConfig{Enabled: true})
	assert.ErrorIs(t, err, errTLSFilesMissing)

	_, err = serverTLSConfig(config.APITLSConfig{Enabled: true, CertFile: "missing.pem", KeyFile: "missing.key"})
	assert.Error(t, err)
}
