// Package kvstore provides the persisted key-value blob storage the engine
// keeps its transaction collection and flow-status cache in. The engine
// treats each collection as a single serialized blob under a fixed key, so
// the interface is deliberately minimal.
package kvstore

// Storage is generic blob storage. Implementations must make SaveItem
// durable before returning so that a poller callback firing immediately
// after a save always observes the new state.
type Storage interface {
	SaveItem(key string, value []byte) error
	LoadItem(key string) ([]byte, bool, error)
	DeleteItem(key string) error
}
