package clause

import "fmt"

// KV is the minimal key-value surface a store needs from the state manager.
// Values are serialised by the implementation; keys are raw bytes the
// implementation may hash before hitting the underlying database.
type KV interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
}

// Store is a clause module's private storage region: a KV view partitioned by
// a fixed module namespace and, within it, by instance key and field name.
// Two stores with different namespaces can never collide regardless of the
// instance keys callers pick, which is what lets independently authored
// modules share one database.
type Store struct {
	kv        KV
	namespace string
}

// NewStore binds a store to its module namespace. The namespace is fixed at
// construction and never derived from instance data.
func NewStore(kv KV, namespace string) *Store {
	return &Store{kv: kv, namespace: namespace}
}

// Namespace returns the module namespace this store is bound to.
func (s *Store) Namespace() string { return s.namespace }

func (s *Store) fieldKey(instance Key, field string) []byte {
	prefix := s.namespace + "/"
	buf := make([]byte, 0, len(prefix)+len(instance)+1+len(field))
	buf = append(buf, prefix...)
	buf = append(buf, instance[:]...)
	buf = append(buf, '/')
	buf = append(buf, field...)
	return buf
}

// Put stores a value under (namespace, instance, field).
func (s *Store) Put(instance Key, field string, value interface{}) error {
	if s == nil || s.kv == nil {
		return fmt.Errorf("clause store: kv not configured")
	}
	return s.kv.KVPut(s.fieldKey(instance, field), value)
}

// Get loads the value stored under (namespace, instance, field) into out.
// The boolean reports whether the field has ever been written.
func (s *Store) Get(instance Key, field string, out interface{}) (bool, error) {
	if s == nil || s.kv == nil {
		return false, fmt.Errorf("clause store: kv not configured")
	}
	return s.kv.KVGet(s.fieldKey(instance, field), out)
}
