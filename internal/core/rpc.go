package core

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const structType = ".google.protobuf.Struct"

// StructHandler serves one unary method whose request and response are
// google.protobuf.Struct.
type StructHandler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// StructMethod names a handler.
type StructMethod struct {
	Name    string
	Handler StructHandler
}

// StructService is a gRPC service built at runtime from Struct methods. Its
// descriptor is registered globally so server reflection can describe it.
type StructService struct {
	File    string
	Package string
	Name    string
	Methods []StructMethod
}

// FullName returns package.Service.
func (s StructService) FullName() string {
	return s.Package + "." + s.Name
}

// MethodPath returns the gRPC path for method.
func (s StructService) MethodPath(method string) string {
	return "/" + s.FullName() + "/" + method
}

var descriptorMu sync.Mutex

// Register adds the service to server.
func (s StructService) Register(server *grpc.Server) error {
	if err := s.registerDescriptor(); err != nil {
		return err
	}
	server.RegisterService(s.serviceDesc(), struct{}{})
	return nil
}

func (s StructService) registerDescriptor() error {
	descriptorMu.Lock()
	defer descriptorMu.Unlock()

	if _, err := protoregistry.GlobalFiles.FindFileByPath(s.File); err == nil {
		return nil
	}
	// Ensure struct.proto is linked before resolving the dependency.
	_ = structpb.File_google_protobuf_struct_proto

	methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(s.Methods))
	for _, m := range s.Methods {
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.Name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}
	fd := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(s.File),
		Package:    proto.String(s.Package),
		Dependency: []string{"google/protobuf/struct.proto"},
		Syntax:     proto.String("proto3"),
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String(s.Name),
			Method: methods,
		}},
	}
	file, err := protodesc.NewFile(fd, protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("build %s descriptor: %w", s.FullName(), err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(file); err != nil {
		return fmt.Errorf("register %s descriptor: %w", s.FullName(), err)
	}
	return nil
}

// Descriptor returns the registered service descriptor.
func (s StructService) Descriptor() (protoreflect.ServiceDescriptor, error) {
	if err := s.registerDescriptor(); err != nil {
		return nil, err
	}
	desc, err := protoregistry.GlobalFiles.FindDescriptorByName(protoreflect.FullName(s.FullName()))
	if err != nil {
		return nil, err
	}
	svc, ok := desc.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, fmt.Errorf("%s is not a service", s.FullName())
	}
	return svc, nil
}

func (s StructService) serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: s.FullName(),
		HandlerType: (*any)(nil),
		Metadata:    s.File,
	}
	for _, m := range s.Methods {
		handler := m.Handler
		info := &grpc.UnaryServerInfo{FullMethod: s.MethodPath(m.Name)}
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.Name,
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				if interceptor == nil {
					return handler(ctx, in)
				}
				call := *info
				call.Server = srv
				return interceptor(ctx, in, &call, func(ctx context.Context, req any) (any, error) {
					return handler(ctx, req.(*structpb.Struct))
				})
			},
		})
	}
	return desc
}
