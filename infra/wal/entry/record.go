package entry

import "time"

type RecordType uint8

const (
	RecordDeposit RecordType = iota
	RecordWithdraw
	RecordPlace
	RecordPlaceMarket
	RecordCancel
)

// Record is one journaled mutation. Every accepted exchange operation is
// appended before it executes so a restart can rebuild books and ledger.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}
