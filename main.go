// Package rawrpipe assembles the call pipeline into a ready-to-use gRPC
// server and client.
//
// Services are declared with [Server.Service] and run through one server
// middleware chain whose order is fixed by priority, not by the order
// options are passed:
//
//	srv := rawrpipe.NewServer(rawrpipe.DefaultOptions()...)
//	srv.Service("demo.Greeter").Unary("Hello", newReq, hello)
//	_ = srv.Serve(lis)
//
// Clients wrap a connection with the matching client middlewares:
//
//	c := rawrpipe.NewClient(conn, rawrpipe.WithClientRetry(retry.DefaultConfig()))
package rawrpipe

// Server middleware priorities. Lower values see a call first.
const (
	OrderRecovery  = 100
	OrderRequestID = 200
	OrderTracing   = 300
	OrderMetrics   = 400
	OrderLogging   = 500
	OrderIPBlock   = 600
	OrderPolicy    = 700
	OrderRateLimit = 800
	OrderAuth      = 900
	OrderUser      = 1000
)
