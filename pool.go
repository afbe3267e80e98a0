package bookaware

// Pool spreads messages over one Queue per topic.
type Pool interface {
	Append(msgs []*Message) error
	Push(msg *Message) error
	Eject(limit int) (msgs []*Message, err error)
	Len() int
}
