package broadcast

import "context"

// TopicSession carries login announcements between tabs of the same user.
const TopicSession = "session"

const TypeLogin = "login"

// Message is the JSON payload exchanged on a topic.
type Message struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	UserID   string `json:"userID"`
	SenderID string `json:"senderId"`
}

// Bus is a best-effort pub/sub channel between tabs. Delivery is asynchronous
// and unordered with respect to the publisher's own state changes, and
// publishers receive their own messages.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(topic string, handler func(Message)) (Subscription, error)
}

type Subscription interface {
	Close() error
}
