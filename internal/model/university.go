package model

import "time"

type University struct {
	ID string
	// BlockchainID is assigned once the university is registered on the ledger.
	BlockchainID      *uint64
	Name              string
	IsActive          bool
	RequiredApprovals int
}

const GlobalScope = "global"

type SyncCursor struct {
	Scope           string
	LastSyncedBlock uint64
	SyncedAt        time.Time
}
