/*
Package dispatch provides named, remotely invocable operations.

A worker process fills a Registry with Operations at startup and serves it
over one of the transports in the subpackages:

	reg := dispatch.NewRegistry()
	reg.MustRegister(dispatch.Operation{
	    Name:        "get_user_name",
	    Description: "Look up a user's display name",
	    Params: []dispatch.Param{
	        {Name: "user_id", Type: dispatch.TypeInteger, Required: true},
	    },
	    Returns: dispatch.TypeString,
	    Handler: func(ctx context.Context, p dispatch.Params) (any, error) {
	        return lookup(p.Int("user_id", 0))
	    },
	})

	err := stdio.Serve(ctx, reg, os.Stdin, os.Stdout)

A coordinator reaches workers through the Caller interface, implemented by
Registry (in-process), stdio.Channel, sse.Client and toolbox.Toolbox.

# Results and Errors

A handler error or panic never crosses the transport as a Go error. It is
delivered as a Result with IsError set, and Result.Err converts it into a
*HandlerExecutionError for callers that prefer errors. A value that cannot
be encoded as JSON is delivered the same way.

Dispatch failures are typed: *UnknownOperationError, *ParameterError,
*ChannelClosedError, *MalformedResponseError and *TransportError. Each
implements the Categorizer interface of pkg/flowgraph/errors, so
Retrying retries only the transient ones.

# Wire Codes

Registry errors travel as JSON-RPC error objects. The SSE transport sends
one as the error of an event; the stdio transport puts it in the
"toolflow/error" metadata of a failed tool result.

	-32001  unknown operation
	-32602  invalid parameters

WireError and ErrorFromWire convert in each direction.
*/
package dispatch
