package amqp

import (
	"encoding/json"
	"time"

	"bollette/internal/services"
)

// BillClearedMessage is the wire form of a cleared-bill event. The
// consumer re-reads the bill from storage; the payload only carries
// identity and enough context for logging.
type BillClearedMessage struct {
	services.BillClearedEvent
	Timestamp time.Time `json:"timestamp"`
}

func NewBillClearedMessage(ev services.BillClearedEvent) *BillClearedMessage {
	return &BillClearedMessage{
		BillClearedEvent: ev,
		Timestamp:        time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *BillClearedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BillClearedMessageFromJSON creates a message from JSON bytes
func BillClearedMessageFromJSON(data []byte) (*BillClearedMessage, error) {
	var msg BillClearedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
