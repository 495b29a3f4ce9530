package api

import (
	"context"
	"errors"
	"io"
	"time"

	"dayroll/internal/models"
	"dayroll/internal/syncer"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// SyncController is the orchestrator surface served over HTTP and gRPC.
type SyncController interface {
	GetSyncStatus() models.SyncStatus
	Sync(ctx context.Context, dir models.SyncDirection) (*syncer.Report, error)
	OnSyncStatusChange(fn func(models.SyncStatus)) func()
}

const (
	syncServiceName   = "dayroll.sync.v1.SyncService"
	methodGetStatus   = "/" + syncServiceName + "/GetStatus"
	methodTriggerSync = "/" + syncServiceName + "/TriggerSync"
	methodWatchStatus = "/" + syncServiceName + "/WatchStatus"
)

// SyncServiceServer uses well-known protobuf types so no generated code is
// needed. TriggerSync takes {"direction": "..."}.
type SyncServiceServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	TriggerSync(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchStatus(*emptypb.Empty, SyncService_WatchStatusServer) error
}

type SyncService_WatchStatusServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type syncServiceWatchStatusServer struct {
	grpc.ServerStream
}

func (x *syncServiceWatchStatusServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func _SyncService_GetStatus_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServiceServer).GetStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _SyncService_TriggerSync_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServiceServer).TriggerSync(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodTriggerSync}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServiceServer).TriggerSync(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _SyncService_WatchStatus_Handler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SyncServiceServer).WatchStatus(m, &syncServiceWatchStatusServer{stream})
}

var SyncService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: syncServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: _SyncService_GetStatus_Handler},
		{MethodName: "TriggerSync", Handler: _SyncService_TriggerSync_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchStatus", Handler: _SyncService_WatchStatus_Handler, ServerStreams: true},
	},
	Metadata: "dayroll/sync/v1/sync.proto",
}

// SyncService serves the orchestrator status and manual sync triggers.
type SyncService struct {
	sync SyncController
}

func NewSyncService(s SyncController) *SyncService {
	return &SyncService{sync: s}
}

func (s *SyncService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return statusStruct(s.sync.GetSyncStatus())
}

func (s *SyncService) TriggerSync(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	dir := models.SyncUpload
	if v, ok := req.GetFields()["direction"]; ok && v.GetStringValue() != "" {
		dir = models.SyncDirection(v.GetStringValue())
	}

	report, err := s.sync.Sync(ctx, dir)
	switch {
	case errors.Is(err, syncer.ErrInvalidDirection):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, syncer.ErrSyncInProgress):
		return nil, status.Error(codes.Aborted, err.Error())
	case errors.Is(err, syncer.ErrLocalOnly):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return structpb.NewStruct(syncResult(dir, report, err))
}

func (s *SyncService) WatchStatus(_ *emptypb.Empty, stream SyncService_WatchStatusServer) error {
	updates := make(chan models.SyncStatus, 16)
	unsubscribe := s.sync.OnSyncStatusChange(func(st models.SyncStatus) {
		select {
		case updates <- st:
		default:
			// Slow watcher; it will catch up with the next snapshot.
		}
	})
	defer unsubscribe()

	var last uint64
	send := func(st models.SyncStatus) error {
		if st.Version != 0 && st.Version <= last {
			return nil
		}
		last = st.Version
		msg, err := statusStruct(st)
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		return stream.Send(msg)
	}

	if err := send(s.sync.GetSyncStatus()); err != nil {
		return err
	}
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case st := <-updates:
			if err := send(st); err != nil {
				return err
			}
		}
	}
}

func statusMap(st models.SyncStatus) map[string]any {
	var last any
	if st.LastSyncTimestamp != nil {
		last = st.LastSyncTimestamp.UTC().Format(time.RFC3339)
	}
	return map[string]any{
		"last_sync_timestamp":  last,
		"pending_change_count": st.PendingChangeCount,
		"remote_available":     st.RemoteAvailable,
		"sync_in_progress":     st.SyncInProgress,
		"state":                string(st.State()),
		"version":              float64(st.Version),
	}
}

func statusStruct(st models.SyncStatus) (*structpb.Struct, error) {
	return structpb.NewStruct(statusMap(st))
}

func syncResult(dir models.SyncDirection, report *syncer.Report, err error) map[string]any {
	out := map[string]any{
		"direction": string(dir),
		"ok":        err == nil,
	}
	if report != nil {
		out["provider"] = report.Provider
		out["days_ok"] = report.DaysOK
		out["days_failed"] = report.DaysFailed
	}
	if err != nil {
		out["error"] = err.Error()
	}
	return out
}

// SyncServiceClient is the client side of SyncService.
type SyncServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSyncServiceClient(cc grpc.ClientConnInterface) *SyncServiceClient {
	return &SyncServiceClient{cc: cc}
}

func (c *SyncServiceClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetStatus, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SyncServiceClient) TriggerSync(ctx context.Context, dir models.SyncDirection, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"direction": string(dir)})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodTriggerSync, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchStatus returns a receive func that yields snapshots until the stream ends.
func (c *SyncServiceClient) WatchStatus(ctx context.Context, opts ...grpc.CallOption) (func() (*structpb.Struct, error), error) {
	stream, err := c.cc.NewStream(ctx, &SyncService_ServiceDesc.Streams[0], methodWatchStatus, opts...)
	if err != nil {
		return nil, err
	}
	// io.EOF means the server already ended the stream; RecvMsg reports why.
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return func() (*structpb.Struct, error) {
		m := new(structpb.Struct)
		if err := stream.RecvMsg(m); err != nil {
			return nil, err
		}
		return m, nil
	}, nil
}
