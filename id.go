package ingest

import "github.com/xraph/ingest/id"

// ID is the primary identifier type for all Ingest entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
