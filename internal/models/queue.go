package models

import (
	"fmt"
	"strings"
)

// QueuePolicy: что делать с тиком, когда очередь заполнена.
type QueuePolicy string

const (
	QueueBlock      QueuePolicy = "block"
	QueueDropNewest QueuePolicy = "drop_newest"
	QueueDropOldest QueuePolicy = "drop_oldest"
)

func ParseQueuePolicy(raw string) (QueuePolicy, error) {
	switch p := QueuePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return QueueDropOldest, nil
	case QueueBlock, QueueDropNewest, QueueDropOldest:
		return p, nil
	}
	return "", fmt.Errorf("unknown queue policy %q (block|drop_newest|drop_oldest)", raw)
}
