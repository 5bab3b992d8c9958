package protocol

import "encoding/hex"

type InfoHash [20]byte

func (h InfoHash) String() string {
	return hex.EncodeToString(h[:])
}

type PeerId [20]byte

type ConnectionId int64

type TransactionId int32

type Action int32

const (
	ActionConnect  Action = 0
	ActionAnnounce Action = 1
	ActionScrape   Action = 2
	ActionError    Action = 3
)

func (action Action) String() string {
	switch action {
	case ActionConnect:
		return "connect"
	case ActionAnnounce:
		return "announce"
	case ActionScrape:
		return "scrape"
	case ActionError:
		return "error"
	default:
		return "unknown"
	}
}
