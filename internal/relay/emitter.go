//go:generate go run go.uber.org/mock/mockgen -source=emitter.go -destination=../mocks/mock_emitter.go -package=mocks

package relay

// Emitter delivers an outbound event to a single connection.
//
// Delivery is best-effort: implementations must not block, and a failure to
// reach one connection is handled (logged, connection dropped) inside the
// implementation rather than reported to the caller.
type Emitter interface {
	Emit(to string, event string, payload any)
}
