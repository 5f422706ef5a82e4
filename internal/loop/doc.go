// Package loop implements the durable prompt-improvement loop.
//
// The loop runs as a Temporal workflow that sequences six stages per
// iteration (collecting, curating, optimizing, evaluating, deploying,
// monitoring), gates candidate promotion on a three-way score comparison
// against a frozen baseline, and re-enters the pipeline when post-deploy
// regression is detected, bounded by a configured iteration ceiling.
//
// External control arrives as tagged commands on a single signal channel
// and is applied at stage checkpoints; the current loop state is exposed
// through a non-blocking query that returns a snapshot copy. Every stage
// outcome is pushed to an append-only audit store on a best-effort basis.
package loop
