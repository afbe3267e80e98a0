package sender

// Stats receives delivery counters from the sender.
type Stats interface {
	Published(topic string)
	Deferred(n int)
	Lost(n int)
}

type nopStats struct{}

func (nopStats) Published(string) {}
func (nopStats) Deferred(int)     {}
func (nopStats) Lost(int)         {}
