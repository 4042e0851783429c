package pipeline

// Kind discriminates the frames that flow through the processing chain.
type Kind int

const (
	// KindAudioIn is caller audio arriving from the transport.
	KindAudioIn Kind = iota
	// KindAudioOut is synthesized audio bound for the transport.
	KindAudioOut
	// KindText is a transcript or response fragment.
	KindText
	// KindTurn is a completed conversation turn.
	KindTurn
)

// Frame is one unit of work in the chain.
type Frame struct {
	Kind  Kind
	Audio []byte
	Text  string
	Role  string // "user" or "assistant" for text and turn frames
	Final bool
}
