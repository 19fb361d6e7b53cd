package storemesh

import "github.com/pricetrack/storemesh/id"

// ID is the primary identifier type for all storemesh entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
