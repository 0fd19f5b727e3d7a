package api

import (
	"context"
	"errors"
	"strings"

	"tintbook/internal/models"
	"tintbook/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	slotServiceName        = "tintbook.slots.v1.SlotService"
	methodGetBookableTimes = "/" + slotServiceName + "/GetBookableTimes"
	methodGetDayStatus     = "/" + slotServiceName + "/GetDayStatus"
)

// Availability is the read side the API surfaces need.
type Availability interface {
	BookableTimes(ctx context.Context, date string, duration float64) ([]string, error)
	TakenTimes(ctx context.Context, date string) ([]models.SlotRecordView, error)
	DayStatus(ctx context.Context, date string, duration float64) (*models.DayStatus, error)
}

// SlotServiceServer is served under tintbook.slots.v1.SlotService.
// Requests and responses are google.protobuf.Struct:
//
//	GetBookableTimes {date, duration_hours?} -> {date, duration_hours, times}
//	GetDayStatus     {date, duration_hours?} -> {date, fully_booked, cleared_out, free_staff, eligible_staff, duration_hours, bookable}
type SlotServiceServer interface {
	GetBookableTimes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDayStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var SlotServiceDesc = grpc.ServiceDesc{
	ServiceName: slotServiceName,
	HandlerType: (*SlotServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBookableTimes", Handler: unaryHandler(methodGetBookableTimes, SlotServiceServer.GetBookableTimes)},
		{MethodName: "GetDayStatus", Handler: unaryHandler(methodGetDayStatus, SlotServiceServer.GetDayStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tintbook/slots/v1/slots.proto",
}

func RegisterSlotServiceServer(s grpc.ServiceRegistrar, srv SlotServiceServer) {
	s.RegisterService(&SlotServiceDesc, srv)
}

func unaryHandler(
	fullMethod string,
	call func(SlotServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SlotServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SlotServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SlotServiceClient calls SlotService over a client connection.
type SlotServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSlotServiceClient(cc grpc.ClientConnInterface) *SlotServiceClient {
	return &SlotServiceClient{cc: cc}
}

func (c *SlotServiceClient) GetBookableTimes(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetBookableTimes, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SlotServiceClient) GetDayStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetDayStatus, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type SlotService struct {
	availability Availability
}

func NewSlotService(availability Availability) *SlotService {
	return &SlotService{availability: availability}
}

func (s *SlotService) GetBookableTimes(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	date, duration, err := dayRequest(req)
	if err != nil {
		return nil, err
	}

	times, err := s.availability.BookableTimes(ctx, date, duration)
	if err != nil {
		return nil, grpcError(err)
	}

	return structpb.NewStruct(map[string]any{
		"date":           date,
		"duration_hours": duration,
		"times":          stringList(times),
	})
}

func (s *SlotService) GetDayStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	date, duration, err := dayRequest(req)
	if err != nil {
		return nil, err
	}

	st, err := s.availability.DayStatus(ctx, date, duration)
	if err != nil {
		return nil, grpcError(err)
	}

	return structpb.NewStruct(map[string]any{
		"date":           st.Date,
		"fully_booked":   st.FullyBooked,
		"cleared_out":    st.ClearedOut,
		"free_staff":     st.FreeStaff,
		"eligible_staff": st.EligibleStaff,
		"duration_hours": st.DurationHours,
		"bookable":       stringList(st.Bookable),
	})
}

func dayRequest(req *structpb.Struct) (string, float64, error) {
	fields := req.GetFields()
	date := strings.TrimSpace(fields["date"].GetStringValue())
	if date == "" {
		return "", 0, status.Error(codes.InvalidArgument, "date is required")
	}
	return date, fields["duration_hours"].GetNumberValue(), nil
}

func stringList(items []string) []any {
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}

func grpcError(err error) error {
	switch service.ErrorKind(err) {
	case service.KindParseError, service.KindInvalidSlot:
		return status.Error(codes.InvalidArgument, err.Error())
	case service.KindConcurrencyConflict:
		return status.Error(codes.Unavailable, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, "failed to read availability")
}
