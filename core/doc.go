// Package core defines the shared data model of the routing and coordination
// engine: the tagged Value variant exchanged between workers, agent
// definitions and results, the execution context evaluated by routing
// conditions, the worker backend contract and the metrics sink.
//
// The package is dependency-free within the module so every other package can
// import it without cycles. Types here are plain data; behavior lives in the
// routing, bus, aggregate, conflict, session and coordinator packages.
package core
