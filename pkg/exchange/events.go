package exchange

// Event types emitted by the engine. Attribute values are decimal strings
// and 0x-hex identifiers so consumers need no binary decoding.
const (
	EventOfferCreated    = "offer.created"
	EventOfferFilled     = "offer.filled"
	EventOfferCancelled  = "offer.cancelled"
	EventAssetsWithdrawn = "assets.withdrawn"
)

type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Emitter receives engine events after the operation's state changes have
// committed. Emission must not fail the operation.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter drops all events. It is the default until a consumer is wired.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}
