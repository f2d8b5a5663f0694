package rtmp

// MessageWriter sends messages to the peer of a connection.
type MessageWriter interface {
	WriteMessage(message *Message) error
	// SetWriteChunkSize announces size to the peer and uses it for every message written afterwards.
	SetWriteChunkSize(size uint32) error
}

// Dispatcher receives every message a connection completed, protocol control messages included.
// w writes back to the same connection.
type Dispatcher interface {
	Dispatch(w MessageWriter, message *Message) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(w MessageWriter, message *Message) error

func (f DispatcherFunc) Dispatch(w MessageWriter, message *Message) error {
	return f(w, message)
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(MessageWriter, *Message) error {
	return nil
}
