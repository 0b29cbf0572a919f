package events

// Subscriber receives announcements from the event bus.
type Subscriber interface {
	// Subscribe delivers raw payloads on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

// Waker turns contest announcements into wake-up signals for feed sessions.
type Waker struct {
	sub Subscriber
}

// NewWaker returns a Waker reading from sub.
func NewWaker(sub Subscriber) *Waker {
	return &Waker{sub: sub}
}

// Watch returns a channel that becomes ready whenever something is appended
// to the contest's log. Bursts collapse into a single pending signal. The
// channel is closed when stop is called or the subscription ends.
func (w *Waker) Watch(contestID int64) (<-chan struct{}, func(), error) {
	raw, cancel, err := w.sub.Subscribe(ContestTopic(contestID))
	if err != nil {
		return nil, nil, err
	}
	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		for range raw {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake, cancel, nil
}
