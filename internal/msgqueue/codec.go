package msgqueue

import (
	"bytes"
	"encoding/gob"
)

// EncodeDelivery gob-encodes a Delivery.
func EncodeDelivery(d Delivery) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeDelivery gob-decodes a Delivery.
func DecodeDelivery(data []byte) (*Delivery, error) {
	var d Delivery
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}
