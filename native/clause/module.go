// Package clause holds the scaffolding shared by every clause module: the
// module protocol, the namespaced instance store, asset normalisation, the
// pause guard and the error taxonomy.
//
// A clause module is a stateless logic unit managing arbitrarily many
// independent instances, each scoped by an opaque caller-chosen 32-byte key.
// Its operation surface falls into four families:
//
//   - intake*: configuration setters, valid only before activation.
//   - ready: validates required fields and activates the instance.
//   - action*: state-changing operations after activation.
//   - handoff*: terminal-state-only reads consumed by orchestration.
//   - query*: reads available in any state.
package clause

// Key is the opaque instance identifier scoping one logical agreement's
// state within a shared module. Keys are caller-chosen and never reused.
type Key = [32]byte

// Module is implemented by every clause engine. Beyond the namespace the
// interface is deliberately small: operations are ordinary methods taking the
// instance key and the resolved caller identity as parameters, so modules
// never depend on implicit execution context.
type Module interface {
	// Namespace returns the module's fixed storage namespace. All of the
	// module's per-instance state lives under this namespace and no other
	// module reads or writes it.
	Namespace() string
}
