package notifications

// ReadState tracks where a notification sits between the local overlay and
// the upstream record. The machine only moves forward:
//
//	unread -> pending -> confirmed
//
// A record enters pending when the user marks it read and the overlay
// remembers that; it reaches confirmed once the upstream record carries the
// read extension. There are no backward transitions: once the server
// confirms, the overlay entry is dropped and the server record alone
// answers.
type ReadState string

const (
	ReadStateUnread    ReadState = "unread"
	ReadStatePending   ReadState = "pending"
	ReadStateConfirmed ReadState = "confirmed"
)

var readStateRank = map[ReadState]int{
	ReadStateUnread:    0,
	ReadStatePending:   1,
	ReadStateConfirmed: 2,
}

// AtLeast reports whether s is as far along the machine as other.
func (s ReadState) AtLeast(other ReadState) bool {
	return readStateRank[s] >= readStateRank[other]
}

// ResolveReadState merges the overlay with the upstream record. The server
// extension wins over the overlay; the overlay wins over nothing.
func ResolveReadState(serverRead, inOverlay bool) ReadState {
	switch {
	case serverRead:
		return ReadStateConfirmed
	case inOverlay:
		return ReadStatePending
	default:
		return ReadStateUnread
	}
}
