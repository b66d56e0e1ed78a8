// Package routing implements path selection for incoming tasks: a library of
// pure predicate conditions, a hierarchical decision tree that composes them,
// an execution strategy selector and success-rate analytics.
//
// Trees and conditions are immutable after the first evaluation and are
// freely shared across concurrent evaluations without locking. Evaluation is
// deterministic: the same tree and context always produce the same decision
// and the same trace.
package routing
