package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rmacdonaldsmith/channelbroker/internal/mailbox"
	"github.com/rmacdonaldsmith/channelbroker/pkg/channels"
	"github.com/rmacdonaldsmith/channelbroker/pkg/message"
	"github.com/rmacdonaldsmith/channelbroker/pkg/topic"
)

// Broker is what the gRPC surface needs from the broker
type Broker interface {
	channels.Broker
	Done() <-chan struct{}
}

// Server exposes the broker as a gRPC service
type Server struct {
	broker Broker
	cfg    Config
	logger *zap.Logger
	grpc   *grpc.Server
}

// NewServer creates a gRPC server in front of b. A nil cfg uses defaults.
func NewServer(b Broker, cfg *Config, logger *zap.Logger) (*Server, error) {
	if b == nil {
		return nil, errors.New("broker cannot be nil")
	}
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rpc config: %w", err)
	}
	c.SetDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{broker: b, cfg: c, logger: logger}
	s.grpc = grpc.NewServer(
		grpc.MaxRecvMsgSize(c.MaxMessageSize),
		grpc.MaxSendMsgSize(c.MaxMessageSize),
		grpc.ChainUnaryInterceptor(s.unaryLogger),
		grpc.ChainStreamInterceptor(s.streamLogger),
	)
	s.grpc.RegisterService(&serviceDesc, s)

	return s, nil
}

// Listen binds the configured address without serving yet
func (s *Server) Listen() (net.Listener, error) {
	l, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}
	return l, nil
}

// Serve serves gRPC on l until Stop is called
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("rpc listening", zap.String("address", l.Addr().String()))
	if err := s.grpc.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop drains in-flight calls, forcing them closed once ctx is done
func (s *Server) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
		return ctx.Err()
	}
}

func (s *Server) checkAlive() error {
	select {
	case <-s.broker.Done():
		return status.Error(codes.Unavailable, channels.ErrBrokerClosed.Error())
	default:
		return nil
	}
}

// Publish sends one message to a topic
func (s *Server) Publish(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}

	fields := req.GetFields()
	d, err := topic.Parse(fields["topic"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	binary := fields["binary"].GetBoolValue()
	data, err := decodeData(fields["data"].GetStringValue(), binary)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if binary {
		s.broker.Send(d, message.Binary(data))
	} else {
		s.broker.Send(d, message.Text(string(data)))
	}
	return &emptypb.Empty{}, nil
}

// Subscribe streams every message sent to the requested topics until the client goes away
func (s *Server) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	if err := s.checkAlive(); err != nil {
		return err
	}

	fields := req.GetFields()
	raw := fields["topics"].GetListValue().GetValues()
	if len(raw) == 0 {
		return status.Error(codes.InvalidArgument, "at least one topic is required")
	}
	topics := make([]topic.Descriptor, 0, len(raw))
	for _, v := range raw {
		d, err := topic.Parse(v.GetStringValue())
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		topics = append(topics, d)
	}

	protocol := channels.Naked
	if fields["multiplexed"].GetBoolValue() {
		protocol = channels.Multiplexed
	}

	mb := mailbox.New(s.cfg.MailboxCapacity)
	for _, d := range topics {
		s.broker.Subscribe(d, protocol, mb)
	}
	defer func() {
		mb.Close()
		s.broker.UnsubscribeAll(mb)
	}()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()

		case <-s.broker.Done():
			return status.Error(codes.Unavailable, channels.ErrBrokerClosed.Error())

		case msg := <-mb.C():
			body := msg.Body()
			data, err := body.ReadAll(ctx)
			if errors.Is(err, message.ErrBodyTruncated) {
				s.logger.Debug("dropping truncated message", zap.Error(err))
				continue
			}
			if err != nil {
				body.Abandon()
				return status.FromContextError(err).Err()
			}

			d, _ := msg.Topic()
			delivery := Delivery{
				Topic:  d.String(),
				Data:   data,
				Binary: msg.Header().Kind == message.KindBinary,
			}
			if err := stream.SendMsg(newDelivery(delivery)); err != nil {
				return err
			}
		}
	}
}

func (s *Server) unaryLogger(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("rpc",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("duration", time.Since(start)))
	return resp, err
}

func (s *Server) streamLogger(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	s.logger.Debug("rpc stream",
		zap.String("method", info.FullMethod),
		zap.String("code", status.Code(err).String()),
		zap.Duration("duration", time.Since(start)))
	return err
}
