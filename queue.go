package bookaware

// Queue is a FIFO of pending messages. A negative limit ejects everything.
type Queue interface {
	Push(msg *Message) error
	Eject(limit int) (msgs []*Message, err error)
	Len() int
}
