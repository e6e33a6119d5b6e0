// Package pipeline chains steps over an explicit State.
//
// Each step receives a copy of the current state and returns only the
// keys it produces; the pipeline merges them in order. Steps that need
// an upstream call wrap it in a CallStep so the call goes through the
// shared cache, rate limiter and retry policy:
//
//	p := pipeline.New("research", pipeline.WithLogger(logger)).MustAdd(
//	    prompt,
//	    &pipeline.CallStep[string, string]{
//	        StepName: "ask", Key: "ask", Output: "answer",
//	        Caller: c, Args: pipeline.FromKey("prompt"), Fn: client.Ask,
//	    },
//	)
//	out, err := p.Run(ctx, pipeline.State{"topic": "rate limiting"})
package pipeline
