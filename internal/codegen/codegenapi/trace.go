package codegenapi

import "tlog.app/go/tlog"

// Trace topics. Enable them with tlog verbosity filters, e.g. "egraph,lower".
const (
	TopicSSA    = "ssa"
	TopicEGraph = "egraph"
	TopicAlias  = "alias"
	TopicLICM   = "licm"
	TopicLower  = "lower"
	TopicABI    = "abi"
	TopicEmit   = "emit"
	TopicCache  = "cache"
)

// SetTraceTopics enables the given comma separated trace topics on the default logger.
func SetTraceTopics(topics string) {
	tlog.SetVerbosity(topics)
}

// Tracing returns true if the topic is enabled.
func Tracing(topic string) bool {
	return tlog.If(topic)
}

// Trace prints a structured trace line if the topic is enabled.
func Trace(topic, msg string, kvs ...any) {
	tlog.V(topic).Printw(msg, kvs...)
}
