// Package pipeline implements the five-stage reasoning pipeline that
// turns a batch of inbound messages into a validated reply.
//
// Stage order is fixed: psychology (1) and intelligence (2) run
// concurrently over the same immutable batch, strategy (3) consumes
// both, content (4) consumes 1-3, and synthesis (5) consumes 1-4 and
// decides the text that leaves the pipeline.
//
// Every stage recovers from its own failure by substituting a static
// fallback result, so a pipeline run degrades stage by stage instead
// of aborting. The controller composes the stages and owns the
// fallback substitution.
package pipeline
