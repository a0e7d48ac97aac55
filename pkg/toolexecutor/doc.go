// Package toolexecutor is the tool registry and dispatcher shared by the
// pipe and HTTP transports.
//
// Invariants:
// - Tool names are unique.
// - Parameters are schema-validated before execution; undeclared keys are
//   dropped and declared defaults applied.
// - Mutating tools fail with write_disabled before the handler runs unless
//   writes are enabled.
// - Failures carry a kind and a redacted message, never the internal error.
//
// Usage:
//
//	exec := toolexecutor.New(toolexecutor.Config{Logger: logger})
//	_ = exec.RegisterTool(toolexecutor.ToolDefinition{
//		Name: "echo",
//		Description: "Echo input",
//		Parameters: []toolexecutor.ToolParameter{{Name: "text", Type: "string", Description: "text", Required: true}},
//		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) { return params["text"], nil },
//	})
//	switch r := exec.Execute(ctx, "echo", map[string]interface{}{"text": "hi"}).(type) {
//	case toolexecutor.Success:
//		fmt.Println(r.Output)
//	case toolexecutor.Failure:
//		fmt.Println(r.Kind, r.Message)
//	}
package toolexecutor
