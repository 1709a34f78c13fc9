package models

import "github.com/iudanet/decksync/pkg/api"

// ConflictRecord describes one rejected push row. It only lives for the duration of a push
// request and is never persisted.
type ConflictRecord struct {
	AssumedMasterState *api.Document
	NewDocumentState   api.Document
	CurrentMasterState api.Document
}
