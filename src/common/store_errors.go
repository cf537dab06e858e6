package common

import "fmt"

// StoreErrType classifies errors returned by the transaction and party
// stores.
type StoreErrType uint32

const (
	// KeyNotFound means the requested item is not in the store.
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists means an item with the same key was inserted before.
	KeyAlreadyExists
	// Empty means the store contains no items of the requested type.
	Empty
)

// StoreErr is a typed store error. dataType identifies the kind of item
// (transaction, party) and key identifies the item itself.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr creates a new StoreErr
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error implements the error interface
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case Empty:
		m = "Empty"
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// IsStore checks that an error is of type StoreErr and that its code matches
// the provided StoreErrType.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
