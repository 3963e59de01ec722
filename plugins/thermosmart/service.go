package thermosmart

import (
	"context"
	"errors"
	"math"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/thermosync/internal/core"
	"github.com/joshp123/thermosync/internal/thermostat"
)

const (
	ServiceName = "thermosync.v1.ThermostatService"
	serviceFile = "thermosync/v1/thermostat.proto"
)

// Service exposes device operations over gRPC.
type Service struct {
	devices DeviceManager
}

func NewService(devices DeviceManager) *Service {
	return &Service{devices: devices}
}

// Definition describes the service for registration and reflection.
func (s *Service) Definition() core.StructService {
	return core.StructService{
		File:    serviceFile,
		Package: "thermosync.v1",
		Name:    "ThermostatService",
		Methods: []core.StructMethod{
			{Name: "ListDevices", Handler: s.ListDevices},
			{Name: "GetDevice", Handler: s.GetDevice},
			{Name: "SetTargetTemperature", Handler: s.SetTargetTemperature},
			{Name: "SetPause", Handler: s.SetPause},
			{Name: "RemoveDevice", Handler: s.RemoveDevice},
		},
	}
}

func (s *Service) ListDevices(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	devices := s.devices.Devices()
	list := make([]any, 0, len(devices))
	for _, d := range devices {
		list = append(list, newDeviceView(d).fields())
	}
	return structpb.NewStruct(map[string]any{"devices": list})
}

func (s *Service) GetDevice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_ = ctx

	id, err := deviceID(req)
	if err != nil {
		return nil, err
	}
	dev, err := s.devices.Device(id)
	if err != nil {
		return nil, rpcError(err)
	}
	return deviceResponse(dev)
}

func (s *Service) SetTargetTemperature(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := deviceID(req)
	if err != nil {
		return nil, err
	}
	value, ok := req.GetFields()["target_temperature"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "target_temperature is required")
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok || math.IsNaN(number.NumberValue) || math.IsInf(number.NumberValue, 0) {
		return nil, status.Error(codes.InvalidArgument, "target_temperature must be a number")
	}
	dev, err := s.devices.WriteTargetTemperature(ctx, id, number.NumberValue)
	if err != nil {
		return nil, rpcError(err)
	}
	return deviceResponse(dev)
}

func (s *Service) SetPause(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := deviceID(req)
	if err != nil {
		return nil, err
	}
	value, ok := req.GetFields()["paused"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "paused is required")
	}
	flag, ok := value.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "paused must be a bool")
	}
	dev, err := s.devices.WritePause(ctx, id, flag.BoolValue)
	if err != nil {
		return nil, rpcError(err)
	}
	return deviceResponse(dev)
}

func (s *Service) RemoveDevice(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := deviceID(req)
	if err != nil {
		return nil, err
	}
	if err := s.devices.RemoveDevice(ctx, id); err != nil {
		return nil, rpcError(err)
	}
	return &structpb.Struct{}, nil
}

func deviceID(req *structpb.Struct) (string, error) {
	id := strings.TrimSpace(req.GetFields()["device_id"].GetStringValue())
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "device_id is required")
	}
	return id, nil
}

func deviceResponse(dev thermostat.Device) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"device": newDeviceView(dev).fields()})
}

func rpcError(err error) error {
	switch {
	case errors.Is(err, thermostat.ErrInvalidDevice):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return status.FromContextError(err).Err()
	case isRemote(err):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
