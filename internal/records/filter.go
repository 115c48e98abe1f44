package records

import "github.com/maneesh/qrshare/internal/models"

// Direction selects transfers by the local device's role
type Direction string

const (
	All      Direction = "all"
	Sent     Direction = "sent"
	Received Direction = "received"
)

// ParseDirection maps a user-supplied name to a Direction
func ParseDirection(s string) (Direction, bool) {
	switch d := Direction(s); d {
	case All, Sent, Received:
		return d, true
	case "":
		return All, true
	}
	return "", false
}

// Of reports the role deviceID plays in t
func Of(t *models.Transfer, deviceID string) Direction {
	if t.SenderDeviceID == deviceID {
		return Sent
	}
	if t.ReceiverDeviceID != nil && *t.ReceiverDeviceID == deviceID {
		return Received
	}
	return All
}

// Filter keeps the transfers matching dir, preserving order
func Filter(list []models.Transfer, deviceID string, dir Direction) []models.Transfer {
	out := make([]models.Transfer, 0, len(list))
	for _, t := range list {
		switch dir {
		case Sent:
			if t.SenderDeviceID != deviceID {
				continue
			}
		case Received:
			if t.ReceiverDeviceID == nil || *t.ReceiverDeviceID != deviceID {
				continue
			}
		default:
			if !t.Involves(deviceID) {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}
