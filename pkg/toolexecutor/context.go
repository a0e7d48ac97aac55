package toolexecutor

import "context"

type callInfoKey struct{}

// CallInfo identifies the transport and request a dispatch belongs to
type CallInfo struct {
	Transport string
	RequestID string
}

// ContextWithCallInfo attaches call metadata for logging and tracing.
func ContextWithCallInfo(ctx context.Context, info CallInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFromContext extracts the call metadata, zero when absent.
func CallInfoFromContext(ctx context.Context) CallInfo {
	if ctx == nil {
		return CallInfo{}
	}
	if v, ok := ctx.Value(callInfoKey{}).(CallInfo); ok {
		return v
	}
	return CallInfo{}
}
