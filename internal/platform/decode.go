package platform

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decode parses a raw webhook body into normalized events. It never fails:
// malformed or unrecognized input degrades to skips so one bad entry cannot
// poison the rest of the delivery. Decode has no side effects.
func Decode(body []byte) DecodeResult {
	var result DecodeResult

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		result.Skipped = append(result.Skipped, Skip{Reason: "malformed payload"})
		return result
	}

	if payload.Object != "page" {
		result.Skipped = append(result.Skipped, Skip{Reason: fmt.Sprintf("unsupported object %q", payload.Object)})
		return result
	}

	for _, entry := range payload.Entry {
		for _, ev := range entry.Messaging {
			event, skip := decodeMessaging(entry.ID, ev)
			if event != nil {
				result.Events = append(result.Events, event)
			}
			if skip != nil {
				result.Skipped = append(result.Skipped, *skip)
			}
		}
	}

	return result
}

func decodeMessaging(entryID string, ev MessagingEvent) (Event, *Skip) {
	pageID := strings.TrimSpace(ev.Recipient.ID)
	if pageID == "" {
		pageID = strings.TrimSpace(entryID)
	}
	customerID := strings.TrimSpace(ev.Sender.ID)

	if pageID == "" || customerID == "" {
		return nil, &Skip{Reason: "event without sender or recipient"}
	}

	switch {
	case ev.Message != nil:
		if ev.Message.IsEcho {
			// Echoes of the page's own sends arrive through the outbound
			// record path with the authoritative mid already persisted.
			return nil, &Skip{Reason: "echo of page send " + ev.Message.MID}
		}
		if strings.TrimSpace(ev.Message.MID) == "" {
			return nil, &Skip{Reason: "message without mid"}
		}
		if ev.Message.Text == "" {
			return nil, &Skip{Reason: "non-text message " + ev.Message.MID}
		}
		return InboundMessage{
			PageID:     pageID,
			CustomerID: customerID,
			MessageID:  ev.Message.MID,
			Text:       ev.Message.Text,
			Timestamp:  ev.Timestamp,
		}, nil

	case ev.Delivery != nil:
		return DeliveryReceipt{
			PageID:     pageID,
			CustomerID: customerID,
			MessageIDs: ev.Delivery.MIDs,
			Watermark:  ev.Delivery.Watermark,
		}, nil

	case ev.Read != nil:
		return ReadReceipt{
			PageID:     pageID,
			CustomerID: customerID,
			Watermark:  ev.Read.Watermark,
		}, nil
	}

	return nil, &Skip{Reason: "messaging event without actionable sub-event"}
}
