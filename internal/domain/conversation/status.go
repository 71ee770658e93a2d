package conversation

// StatusKind enumerates the thread states of a stored conversation.
type StatusKind int

const (
	StatusUnthreaded StatusKind = iota
	StatusThreaded
)

func (k StatusKind) String() string {
	switch k {
	case StatusUnthreaded:
		return "unthreaded"
	case StatusThreaded:
		return "threaded"
	default:
		return "unknown"
	}
}

// Status is the tagged variant Unthreaded | Threaded{handle}.
// The handle is only meaningful when Kind is StatusThreaded.
type Status struct {
	kind   StatusKind
	handle ThreadHandle
}

// Unthreaded returns the status of a conversation without a chat thread.
func Unthreaded() Status {
	return Status{kind: StatusUnthreaded}
}

// Threaded returns the status of a conversation bound to handle.
func Threaded(handle ThreadHandle) Status {
	return Status{kind: StatusThreaded, handle: handle}
}

// Kind returns the variant tag.
func (s Status) Kind() StatusKind {
	return s.kind
}

// Handle returns the bound thread and whether one exists.
func (s Status) Handle() (ThreadHandle, bool) {
	if s.kind != StatusThreaded {
		return ThreadHandle{}, false
	}
	return s.handle, true
}

func (s Status) String() string {
	if s.kind == StatusThreaded {
		return "threaded(" + s.handle.Key() + ")"
	}
	return s.kind.String()
}
