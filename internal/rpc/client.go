package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the Broker service over a gRPC connection
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target without transport security. Extra options are appended.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Publish sends data to topic
func (c *Client) Publish(ctx context.Context, topic string, data []byte, binary bool) error {
	req, err := newPublishRequest(topic, data, binary)
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, publishMethod, req, new(emptypb.Empty))
}

// Subscription is an open Subscribe stream
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe opens a stream receiving messages sent to any of topics. Cancel ctx to end it.
func (c *Client) Subscribe(ctx context.Context, topics []string, multiplexed bool) (*Subscription, error) {
	req, err := newSubscribeRequest(topics, multiplexed)
	if err != nil {
		return nil, err
	}

	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	return &Subscription{stream: stream}, nil
}

// Recv waits for the next delivery
func (s *Subscription) Recv() (Delivery, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return Delivery{}, err
	}
	return parseDelivery(out)
}
