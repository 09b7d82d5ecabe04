package service

import (
	"fmt"
	"strconv"
	"strings"

	"clob/domain/orderbook"
	entrywal "clob/infra/wal/entry"
)

// ReplayJournal rebuilds all in-memory state from the intent journal. It MUST
// run before accepting traffic. Operation timestamps are pinned to the
// journaled time so expiry decisions replay identically; rejected operations
// fail identically and are skipped.
func (e *Exchange) ReplayJournal(dir string) error {
	e.replaying = true
	defer func() {
		e.replaying = false
		e.clk.override.Store(0)
	}()

	lastSeq, err := entrywal.Replay(dir, func(rec *entrywal.Record) error {
		e.clk.override.Store(rec.Time)
		return e.apply(rec)
	})
	if err != nil {
		return err
	}

	// Resume sequencing after both the journal and any trade seqs already
	// issued to the outbox.
	next := lastSeq
	if e.box != nil {
		if boxMax, err := e.box.MaxSeq(); err == nil && boxMax > next {
			next = boxMax
		}
	}
	e.seqGen.Reset(next)

	e.log.WithField("lastSeq", lastSeq).Info("journal replay completed")
	return nil
}

func (e *Exchange) apply(rec *entrywal.Record) error {
	parts := strings.Split(string(rec.Data), "|")

	switch rec.Type {
	case entrywal.RecordDeposit, entrywal.RecordWithdraw:
		if len(parts) != 3 {
			return fmt.Errorf("invalid journal payload: %q", rec.Data)
		}
		amount, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return err
		}
		if rec.Type == entrywal.RecordDeposit {
			_ = e.ledger.Deposit(parts[1], amount, parts[0])
		} else {
			_ = e.ledger.Withdraw(parts[1], amount, parts[0])
		}

	case entrywal.RecordPlace:
		if len(parts) != 7 {
			return fmt.Errorf("invalid journal payload: %q", rec.Data)
		}
		side, tif, err := parseSideTIF(parts[3], parts[4])
		if err != nil {
			return err
		}
		price, err := strconv.ParseInt(parts[5], 10, 64)
		if err != nil {
			return err
		}
		qty, err := strconv.ParseInt(parts[6], 10, 64)
		if err != nil {
			return err
		}
		book, err := e.registry.GetPool(parts[0], parts[1])
		if err != nil {
			return err
		}
		_, _ = book.PlaceOrder(e.caller(), parts[2], side, price, qty, tif)

	case entrywal.RecordPlaceMarket:
		if len(parts) != 5 {
			return fmt.Errorf("invalid journal payload: %q", rec.Data)
		}
		sideN, err := strconv.Atoi(parts[3])
		if err != nil {
			return err
		}
		qty, err := strconv.ParseInt(parts[4], 10, 64)
		if err != nil {
			return err
		}
		book, err := e.registry.GetPool(parts[0], parts[1])
		if err != nil {
			return err
		}
		_, _ = book.PlaceMarketOrder(e.caller(), parts[2], orderbook.Side(sideN), qty)

	case entrywal.RecordCancel:
		if len(parts) != 4 {
			return fmt.Errorf("invalid journal payload: %q", rec.Data)
		}
		id, err := strconv.ParseUint(parts[3], 10, 64)
		if err != nil {
			return err
		}
		book, err := e.registry.GetPool(parts[0], parts[1])
		if err != nil {
			return err
		}
		_ = book.CancelOrder(e.caller(), parts[2], id)
	}
	return nil
}

func parseSideTIF(sideStr, tifStr string) (orderbook.Side, orderbook.TimeInForce, error) {
	sideN, err := strconv.Atoi(sideStr)
	if err != nil {
		return 0, 0, err
	}
	tifN, err := strconv.Atoi(tifStr)
	if err != nil {
		return 0, 0, err
	}
	return orderbook.Side(sideN), orderbook.TimeInForce(tifN), nil
}
