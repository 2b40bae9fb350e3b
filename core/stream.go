package core

// StreamEvent is a message delta observed while a turn executes. Delta is
// either a string or a list of parts ([]any of map / string, []string, or
// []Part) depending on the producer.
type StreamEvent struct {
	Node  string // Node identity that produced the delta
	Role  Role   // Message variant the delta belongs to
	Delta any
}
