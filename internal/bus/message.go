package bus

import (
	"encoding/json"
	"fmt"

	"github.com/sealteam/sealteam/internal/models"
)

func encodeMessage(msg models.QueueMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMessage(payload string) (models.QueueMessage, error) {
	if payload == "" {
		return models.QueueMessage{}, errEmptyPayload
	}
	var msg models.QueueMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return models.QueueMessage{}, fmt.Errorf("unmarshal queue message: %w", err)
	}
	return msg, nil
}
