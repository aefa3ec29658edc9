// Package ping provides a built-in rawr.Ping service for smoke tests and
// demos. It is registered through [server.Service], so pings run through the
// same middleware chain as application calls.
//
// The request and response types are plain Go structs rather than generated
// protobuf messages. The package therefore installs a codec under the
// "proto" name that JSON-encodes ping types and hands every other message to
// the protobuf codec.
package ping

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/benbjohnson/clock"
	"google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/proto" // registered first so init below replaces it
	"google.golang.org/protobuf/proto"

	"github.com/Keksclan/rawrpipe/pipeline"
	"github.com/Keksclan/rawrpipe/rpcerror"
	"github.com/Keksclan/rawrpipe/server"
)

// ServiceName is the registered name of the ping service.
const ServiceName = "rawr.Ping"

// Request is the input of both ping methods.
type Request struct {
	Message string `json:"message"`
	// Count is the number of responses Stream sends.
	Count int32 `json:"count,omitempty"`
}

// Response is the output of both ping methods.
type Response struct {
	Message        string `json:"message"`
	Seq            int32  `json:"seq,omitempty"`
	ServerTimeUnix int64  `json:"server_time_unix"`
}

type pingMsg interface{ isPingMsg() }

func (*Request) isPingMsg()  {}
func (*Response) isPingMsg() {}

func newRequest() any  { return new(Request) }
func newResponse() any { return new(Response) }

// Method descriptors for calling the service through a client.
var (
	PingMethod = &pipeline.MethodDescriptor{
		Path:        "/" + ServiceName + "/Ping",
		Idempotency: pipeline.NoSideEffects,
		NewRequest:  newRequest,
		NewResponse: newResponse,
	}
	StreamMethod = &pipeline.MethodDescriptor{
		Path:           "/" + ServiceName + "/Stream",
		ResponseStream: true,
		Idempotency:    pipeline.NoSideEffects,
		NewRequest:     newRequest,
		NewResponse:    newResponse,
	}
)

// Service returns the ping service. Ping echoes the request message, Stream
// echoes it Count times. A nil clk uses the wall clock.
func Service(clk clock.Clock, opts ...server.Option) *server.Service {
	if clk == nil {
		clk = clock.New()
	}
	return server.NewService(ServiceName, opts...).
		Handle(PingMethod, func(_ context.Context, req pipeline.Request, _ *pipeline.CallContext) pipeline.Producer {
			in := req.Message.(*Request)
			return pipeline.Value(&Response{Message: in.Message, ServerTimeUnix: clk.Now().Unix()})
		}).
		Handle(StreamMethod, func(ctx context.Context, req pipeline.Request, _ *pipeline.CallContext) pipeline.Producer {
			in := req.Message.(*Request)
			return func(yield pipeline.Yield) (any, error) {
				for i := range in.Count {
					if ctx.Err() != nil {
						return nil, rpcerror.Abort(ctx)
					}
					if err := yield(&Response{Message: in.Message, Seq: i + 1, ServerTimeUnix: clk.Now().Unix()}); err != nil {
						return nil, err
					}
				}
				return nil, nil
			}
		})
}

func init() {
	encoding.RegisterCodec(codec{})
}

type codec struct{}

func (codec) Name() string { return "proto" }

func (codec) Marshal(v any) ([]byte, error) {
	if _, ok := v.(pingMsg); ok {
		return json.Marshal(v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("ping codec: unsupported message type %T", v)
}

func (codec) Unmarshal(data []byte, v any) error {
	if _, ok := v.(pingMsg); ok {
		return json.Unmarshal(data, v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("ping codec: unsupported message type %T", v)
}
