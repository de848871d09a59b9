package rpc

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "channelbroker.Broker"

const (
	publishMethod   = "/" + ServiceName + "/Publish"
	subscribeMethod = "/" + ServiceName + "/Subscribe"
)

// brokerService is the server side of the Broker service. Requests and responses are
// protobuf Structs:
//
//	Publish(  {topic: string, data: string, binary: bool}) returns Empty
//	Subscribe({topics: [string], multiplexed: bool})       streams {topic?: string, data: string, binary: bool}
//
// Binary data travels base64 encoded.
type brokerService interface {
	Publish(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	Subscribe(req *structpb.Struct, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*brokerService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler:    publishHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "channelbroker.proto",
}

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(brokerService).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: publishMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(brokerService).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(brokerService).Subscribe(in, stream)
}

// Delivery is one message received on a Subscribe stream
type Delivery struct {
	Topic  string
	Data   []byte
	Binary bool
}

func encodeData(data []byte, binary bool) string {
	if binary {
		return base64.StdEncoding.EncodeToString(data)
	}
	return string(data)
}

func decodeData(s string, binary bool) ([]byte, error) {
	if !binary {
		return []byte(s), nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("binary data must be base64: %w", err)
	}
	return data, nil
}

func newPublishRequest(topic string, data []byte, binary bool) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"topic":  topic,
		"data":   encodeData(data, binary),
		"binary": binary,
	})
}

func newSubscribeRequest(topics []string, multiplexed bool) (*structpb.Struct, error) {
	list := make([]interface{}, 0, len(topics))
	for _, t := range topics {
		list = append(list, t)
	}
	return structpb.NewStruct(map[string]interface{}{
		"topics":      list,
		"multiplexed": multiplexed,
	})
}

func newDelivery(d Delivery) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"data":   structpb.NewStringValue(encodeData(d.Data, d.Binary)),
		"binary": structpb.NewBoolValue(d.Binary),
	}
	if d.Topic != "" {
		fields["topic"] = structpb.NewStringValue(d.Topic)
	}
	return &structpb.Struct{Fields: fields}
}

func parseDelivery(s *structpb.Struct) (Delivery, error) {
	binary := s.GetFields()["binary"].GetBoolValue()
	data, err := decodeData(s.GetFields()["data"].GetStringValue(), binary)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{
		Topic:  s.GetFields()["topic"].GetStringValue(),
		Data:   data,
		Binary: binary,
	}, nil
}
