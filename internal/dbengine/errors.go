package dbengine

import "errors"

// Engine-layer error taxonomy (spec.md §7). rpcapi maps each of these to
// an RPC status; everything else surfaces as Internal.
var (
	ErrDatabaseAlreadyExists   = errors.New("dbengine: database already exists")
	ErrDatabaseNotFound        = errors.New("dbengine: database not found")
	ErrCollectionAlreadyExists = errors.New("dbengine: collection already exists")
	ErrCollectionNotFound      = errors.New("dbengine: collection not found")
	ErrKeyAlreadyExists        = errors.New("dbengine: key already exists")
	ErrRecordNotFound          = errors.New("dbengine: record not found")
	ErrUserNotFound            = errors.New("dbengine: user not found")
	ErrSchemaNotExists         = errors.New("dbengine: schema does not exist")
	ErrInvalidArgument         = errors.New("dbengine: invalid argument")
)
