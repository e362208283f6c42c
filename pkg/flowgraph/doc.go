/*
Package flowgraph runs statically declared pipelines of stages over a typed
state record.

# Overview

A pipeline is a directed graph of nodes. Each node reads the current state
and returns a partial update naming only the fields it changed. The engine
merges the update using the merge policy declared for each field, then
follows the node's outgoing edge. Nodes run strictly one at a time.

  - Type-safe generics for state and field values
  - Compile-time validation of graph structure and route tables
  - Per-field merge policies (replace, append, bounded window, upsert by id)
  - Thread checkpoints with resume, interrupts and state inspection
  - OpenTelemetry integration for observability

# Basic Usage

Declare the updatable fields, build the graph, compile and run:

	type Chat struct {
	    Query  string
	    Info   string
	    Answer string
	}

	var (
	    info   = flowgraph.NewField("info", func(s *Chat) *string { return &s.Info }, nil)
	    answer = flowgraph.NewField("answer", func(s *Chat) *string { return &s.Answer }, nil)
	)

	func lookup(ctx flowgraph.Context, s Chat) (flowgraph.Update[Chat], error) {
	    return flowgraph.Update[Chat]{info.Set("data for " + s.Query)}, nil
	}

	func respond(ctx flowgraph.Context, s Chat) (flowgraph.Update[Chat], error) {
	    return flowgraph.Update[Chat]{answer.Set("Answer: " + s.Info)}, nil
	}

	func main() {
	    compiled, err := flowgraph.NewGraph[Chat](info, answer).
	        AddNode("lookup", lookup).
	        AddNode("respond", respond).
	        AddEdge("lookup", "respond").
	        SetEntry("lookup").
	        Compile()
	    if err != nil {
	        log.Fatal(err)
	    }

	    ctx := flowgraph.NewContext(context.Background())
	    result, err := compiled.Run(ctx, Chat{Query: "X"})
	    if err != nil {
	        log.Fatal(err)
	    }
	    fmt.Println(result.Answer) // "Answer: data for X"
	}

A node with no outgoing edge ends the run, as does an edge to END.

# Merge Policies

The default policy replaces the field. Other policies:

	flowgraph.Append[string]()                 // ["a"] then ["b"] -> ["a", "b"]
	flowgraph.Window[float64](5)               // append, keep the last 5
	flowgraph.UpsertByID(msgID, isRemoval)     // replace or delete entries by identity
	flowgraph.Sum[int]()                       // add to a counter

Any func(current, update T) T is a valid MergeFunc. Updates that name a
field not passed to NewGraph fail the node with ErrUndeclaredField.

# Conditional Branching

A router computes a label; the route table declared with the edge maps
labels to nodes:

	graph.AddConditionalEdge("check", func(ctx flowgraph.Context, s State) string {
	    if s.Flag {
	        return "B"
	    }
	    return "A"
	}, map[string]string{"A": "stageA", "B": "stageB"})

A label missing from the table fails the run with a *RouterError wrapping
ErrUnknownRoute. Route tables are validated at Compile.

# Loops

Route back to an earlier node to loop:

	graph.AddConditionalEdge("attempt", retryRouter, map[string]string{
	    "retry": "attempt",
	    "done":  flowgraph.END,
	})

Loops are protected by max iterations (default 1000).
Configure with the WithMaxIterations option.

# Fan-out

Independent tool calls inside one node run concurrently with FanOut. Every
call completes, successfully or with a recorded failure, before FanOut
returns, and outcomes stay tagged with their input:

	outcomes := flowgraph.FanOut(ctx, inputs, call, flowgraph.WithMaxConcurrency(4))
	ok, failed := flowgraph.Partition(outcomes)

# Checkpointing

Checkpoints are grouped by thread. With checkpointing enabled the input state
and the state after every node are saved:

	store, err := checkpoint.NewSQLiteStore("./checkpoints.db")
	defer store.Close()

	result, err := compiled.Run(ctx, state,
	    flowgraph.WithCheckpointing(store),
	    flowgraph.WithThreadID("thread-1"))

	// Resume after crash or interrupt
	result, err = compiled.Resume(ctx, store, "thread-1")

Pause for review with WithInterruptBefore. Inspect and edit a thread with
GetState, StateHistory and UpdateState.

# Observability

Enable logging, metrics, and tracing:

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	result, err := compiled.Run(ctx, state,
	    flowgraph.WithObservabilityLogger(logger),
	    flowgraph.WithMetrics(true),
	    flowgraph.WithTracing(true))

Logs include structured fields: run_id, node_id, duration_ms.
OpenTelemetry metrics: flowgraph.node.executions, flowgraph.node.latency_ms, etc.
OpenTelemetry tracing: flowgraph.run > flowgraph.node.{id} spans.

# Error Handling

Errors include context about which node failed:

	result, err := compiled.Run(ctx, state)
	var nodeErr *flowgraph.NodeError
	if errors.As(err, &nodeErr) {
	    log.Printf("Node %s failed: %v", nodeErr.NodeID, nodeErr.Err)
	}

Panics in nodes and routers are recovered and converted to PanicError with
stack trace.

# Thread Safety

  - Graph[S] is NOT safe for concurrent use during construction
  - CompiledGraph[S] IS safe for concurrent use (immutable)
  - Each Run owns its state; runs share only the checkpoint store
  - checkpoint.Store implementations are safe for concurrent use

# Subpackages

  - checkpoint: Thread checkpoint storage (memory, SQLite)
  - config: Typed configuration, toolbox files, environment checks
  - errors: Error categories and explicit retry
  - llm: LLM client interface and implementations
  - observability: Logging, metrics, and tracing helpers
  - registry: Insertion-ordered generic registry
*/
package flowgraph
