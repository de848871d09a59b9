// Package rpc exposes the broker over gRPC.
//
// The service is described by hand with grpc.ServiceDesc and carries protobuf well-known
// types (structpb.Struct, emptypb.Empty), so no generated code is needed. Publish sends
// one message; Subscribe is a server stream delivering every message sent to the
// requested topics until the client cancels.
package rpc
