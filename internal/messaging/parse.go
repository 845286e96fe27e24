package messaging

import (
	"fmt"
	"strconv"
	"time"

	"basenames-agent-go/internal/models"
)

func parseInbound(id string, values map[string]any) (models.InboundMessage, error) {
	kind, _ := getStreamString(values, "type")
	if kind == "" {
		kind = models.KindMessage
	}
	if kind != models.KindMessage && kind != models.KindConversation {
		return models.InboundMessage{}, fmt.Errorf("unknown entry type %q", kind)
	}

	conversationId, err := getStreamString(values, "conversation_id")
	if err != nil {
		return models.InboundMessage{}, err
	}

	msg := models.InboundMessage{
		Id:             id,
		Kind:           kind,
		ConversationId: conversationId,
	}

	if kind == models.KindMessage {
		if msg.SenderInboxId, err = getStreamString(values, "sender_inbox_id"); err != nil {
			return models.InboundMessage{}, err
		}
		// empty content is a valid (unrecognized) command
		msg.Content, _ = getStreamString(values, "content")
	}

	msg.SentAt = parseSentAt(values["sent_at"])
	return msg, nil
}

func getStreamString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("empty field %s", key)
		}
		return v, nil
	case []byte:
		if len(v) == 0 {
			return "", fmt.Errorf("empty field %s", key)
		}
		return string(v), nil
	default:
		return "", fmt.Errorf("field %s has unexpected type %T", key, raw)
	}
}

// parseSentAt accepts RFC3339 or unix milliseconds and falls back to now
func parseSentAt(raw any) time.Time {
	s, ok := raw.(string)
	if !ok || s == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Now().UTC()
}
