package interceptors

import "github.com/Keksclan/rawrpipe/pipeline"

// ChainServer composes server middlewares into one. The first middleware in
// the slice sees the call first.
func ChainServer(mws []pipeline.ServerMiddleware) pipeline.ServerMiddleware {
	switch len(mws) {
	case 0:
		return nil
	case 1:
		return mws[0]
	}

	var chained pipeline.ServerMiddleware
	for _, mw := range mws {
		chained = pipeline.ComposeServer(chained, mw)
	}
	return chained
}

// ChainClient composes client middlewares into one. The first middleware in
// the slice is the outermost and sees the call first.
func ChainClient(mws []pipeline.ClientMiddleware) pipeline.ClientMiddleware {
	switch len(mws) {
	case 0:
		return nil
	case 1:
		return mws[0]
	}

	var chained pipeline.ClientMiddleware
	for i := len(mws) - 1; i >= 0; i-- {
		chained = pipeline.ComposeClient(chained, mws[i])
	}
	return chained
}
