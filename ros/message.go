package ros

import "bytes"

// MessageType describes a ROS message or service definition: its name,
// its MD5-style type hash, and a factory for blank instances. Loading
// the underlying .msg/.srv text is out of this package's scope — a
// MessageType is constructed by generated code or by hand and handed to
// NewPublisher/NewSubscriber as an opaque descriptor.
type MessageType interface {
	Text() string
	MD5Sum() string
	Name() string
	NewMessage() Message
}

// Message is anything that can serialize itself onto the wire and
// populate itself from the wire. Publish/Subscribe never interprets the
// bytes themselves; serialization is always delegated to the
// application-supplied Message implementation.
type Message interface {
	GetType() MessageType
	Serialize(buf *bytes.Buffer) error
	Deserialize(buf *bytes.Reader) error
}
