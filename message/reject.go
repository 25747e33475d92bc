package message

// RejectKind is the kind of every [Reject]. A stage registered
// under this name receives the rejections of the other stages.
const RejectKind = "reject"

// RejectType tells why a message has been rejected.
type RejectType int

const (
	// RejectStageShutdown is used when a message is added to a stage
	// that is shutting down or has been shut down.
	RejectStageShutdown RejectType = iota
	// RejectProcessError is used when the processing logic of a stage fails.
	RejectProcessError
	// RejectUser is used when a message is explicitly dropped,
	// for example because the stage is overloaded.
	RejectUser
)

func (rt RejectType) String() string {
	switch rt {
	case RejectStageShutdown:
		return "stage_shutdown"
	case RejectProcessError:
		return "process_error"
	case RejectUser:
		return "user_reject"
	default:
		return "unknown"
	}
}

var _ Kinded = (*Reject)(nil)

// Reject is the record of a rejected message.
// It is a message itself, so it can be dispatched, logged or stored
// like any other message.
type Reject struct {
	Type     RejectType
	Info     any
	Original Message
}

// NewReject returns a new [Reject].
func NewReject(typ RejectType, info any, original Message) *Reject {
	return &Reject{
		Type:     typ,
		Info:     info,
		Original: original,
	}
}

// Tag returns the tag of the original message.
func (r *Reject) Tag() int {
	if r.Original == nil {
		return 0
	}
	return r.Original.Tag()
}

// Kind returns [RejectKind].
func (r *Reject) Kind() string {
	return RejectKind
}
