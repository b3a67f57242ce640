package broadcast

import (
	"github.com/auditmos/devlens/logging"
)

// Transport is a logging.Hook that publishes every record on TopicLog in
// the flat record shape live viewers expect.
type Transport struct {
	b         *Broadcaster
	formatter logging.Formatter
}

func NewTransport(b *Broadcaster) *Transport {
	return &Transport{b: b, formatter: &logging.RecordFormatter{}}
}

func (t *Transport) Fire(entry logging.LogEntry) error {
	// Delivery failures are themselves logged; publishing them again could loop.
	if entry.Component == "broadcast" {
		return nil
	}
	if t.b.Subscribers(TopicLog) == 0 {
		return nil
	}
	data, err := t.formatter.Format(entry)
	if err != nil {
		return err
	}
	t.b.Publish(TopicLog, string(data))
	return nil
}
