package amqp

import (
	"encoding/json"
	"time"
)

// RateImportMessage asks the worker to import exchange rates for one
// symbol. It carries only the symbol; the worker decides the date
// window and fetches the prices itself.
type RateImportMessage struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRateImportMessage(symbol string) *RateImportMessage {
	return &RateImportMessage{
		Symbol:    symbol,
		Timestamp: time.Now(),
	}
}

func (m *RateImportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RateImportMessageFromJSON(data []byte) (*RateImportMessage, error) {
	var msg RateImportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
