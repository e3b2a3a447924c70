package connection

import "context"

// Subscription is the ordered stream of push notifications from one
// connection. Only one goroutine should consume it. A consumer that falls
// behind by more than the queue capacity for longer than the push timeout
// ends the connection.
type Subscription struct {
	events <-chan Notification
	done   <-chan struct{}
	errFn  func() error
}

// Events returns the notification channel. It is closed after the
// connection ends and any queued notifications have been read.
func (s *Subscription) Events() <-chan Notification {
	return s.events
}

// Next blocks for the next notification.
func (s *Subscription) Next(ctx context.Context) (Notification, error) {
	select {
	case note, ok := <-s.events:
		if !ok {
			return Notification{}, s.errFn()
		}
		return note, nil
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	}
}

// Done is closed when the connection has ended.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns why the connection ended, or nil while it is up.
func (s *Subscription) Err() error {
	return s.errFn()
}
