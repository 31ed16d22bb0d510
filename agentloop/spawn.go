package agentloop

import "context"

// ChildRunner adapts a Loop and a base RunConfig into a toolregistry.Runner,
// letting the spawn_agent tool (and team member delegation) launch nested
// runs without toolregistry importing agentloop directly.
type ChildRunner struct {
	Loop *Loop
	Base RunConfig
}

// NewChildRunner returns a ChildRunner that spawns nested runs inheriting
// every RunConfig field from base except RunID (regenerated per child) and
// Tools (narrowed to allowedTools when the caller requests a subset).
func NewChildRunner(loop *Loop, base RunConfig) *ChildRunner {
	return &ChildRunner{Loop: loop, Base: base}
}

// RunToCompletion implements toolregistry.Runner.
func (c *ChildRunner) RunToCompletion(ctx context.Context, task string, allowedTools []string) (string, error) {
	return c.Loop.runToCompletion(ctx, c.Base, task, allowedTools)
}
