package service

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"clob/domain/ledger"
	"clob/domain/orderbook"
	"clob/domain/registry"
	"clob/infra/outbox"
	"clob/infra/sequence"
	entrywal "clob/infra/wal/entry"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestExchange(t *testing.T, journalDir string) *Exchange {
	t.Helper()

	var journal *entrywal.WAL
	if journalDir != "" {
		var err error
		journal, err = entrywal.Open(entrywal.Config{Dir: journalDir})
		if err != nil {
			t.Fatalf("open journal: %v", err)
		}
		t.Cleanup(func() { journal.Close() })
	}

	led := ledger.New(ledger.Config{FeeReceiver: "fees"})
	reg := registry.New(led)
	e := NewExchange(led, reg, journal, nil, sequence.New(0), "router", quietLogger())

	if _, err := e.CreatePool(orderbook.Config{
		Base:  "ETH",
		Quote: "USDC",
		Owner: "owner",
	}); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return e
}

func TestDepositPlaceMatchFlow(t *testing.T) {
	e := newTestExchange(t, "")

	if err := e.Deposit("alice", "ETH", 10); err != nil {
		t.Fatal(err)
	}
	if err := e.Deposit("bob", "USDC", 10000); err != nil {
		t.Fatal(err)
	}

	var trades []orderbook.Trade
	e.OnTrade(func(tr orderbook.Trade) { trades = append(trades, tr) })

	if _, err := e.PlaceOrder("ETH", "USDC", "alice", orderbook.Sell, 1000, 10, orderbook.GTC); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PlaceOrder("ETH", "USDC", "bob", orderbook.Buy, 1000, 10, orderbook.GTC); err != nil {
		t.Fatal(err)
	}

	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	tr := trades[0]
	if tr.Pair != "ETH/USDC" || tr.Price != 1000 || tr.Qty != 10 || tr.Maker != "alice" || tr.Taker != "bob" {
		t.Errorf("trade = %+v", tr)
	}

	if got := e.Balance("bob", "ETH"); got != 10 {
		t.Errorf("bob ETH = %d, want 10", got)
	}
	// Base decimals 0: notional = 10 * 1000.
	if got := e.Balance("alice", "USDC"); got != 10000 {
		t.Errorf("alice USDC = %d, want 10000", got)
	}
}

func TestCancelThroughService(t *testing.T) {
	e := newTestExchange(t, "")
	if err := e.Deposit("alice", "USDC", 5000); err != nil {
		t.Fatal(err)
	}
	id, err := e.PlaceOrder("ETH", "USDC", "alice", orderbook.Buy, 1000, 5, orderbook.GTC)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Balance("alice", "USDC"); got != 0 {
		t.Fatalf("expected full lock, balance = %d", got)
	}
	if err := e.CancelOrder("ETH", "USDC", "alice", id); err != nil {
		t.Fatal(err)
	}
	if got := e.Balance("alice", "USDC"); got != 5000 {
		t.Errorf("balance after cancel = %d, want 5000", got)
	}

	orders, err := e.UserActiveOrders("ETH", "USDC", "alice")
	if err != nil || len(orders) != 0 {
		t.Errorf("active orders = (%v, %v), want none", orders, err)
	}
}

func TestUnknownPairRejected(t *testing.T) {
	e := newTestExchange(t, "")
	if _, err := e.PlaceOrder("BTC", "USDC", "alice", orderbook.Buy, 1, 1, orderbook.GTC); err == nil {
		t.Error("placing on an unregistered pair must fail")
	}
	if _, _, err := e.Depth("BTC", "USDC", 5); err == nil {
		t.Error("depth on an unregistered pair must fail")
	}
}

func TestDepthQuery(t *testing.T) {
	e := newTestExchange(t, "")
	if err := e.Deposit("alice", "ETH", 30); err != nil {
		t.Fatal(err)
	}
	for _, price := range []int64{1000, 1100, 1200} {
		if _, err := e.PlaceOrder("ETH", "USDC", "alice", orderbook.Sell, price, 10, orderbook.GTC); err != nil {
			t.Fatal(err)
		}
	}
	bids, asks, err := e.Depth("ETH", "USDC", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(bids) != 0 || len(asks) != 2 {
		t.Fatalf("depth = (%d bids, %d asks), want (0, 2)", len(bids), len(asks))
	}
	if asks[0].Price != 1000 || asks[1].Price != 1100 {
		t.Errorf("asks = %+v, want best-first", asks)
	}
}

// Replaying the journal into a fresh exchange rebuilds balances, resting
// orders and depth exactly.
func TestReplayRebuildsState(t *testing.T) {
	dir := t.TempDir()

	e := newTestExchange(t, dir)
	if err := e.Deposit("alice", "ETH", 20); err != nil {
		t.Fatal(err)
	}
	if err := e.Deposit("bob", "USDC", 20000); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PlaceOrder("ETH", "USDC", "alice", orderbook.Sell, 1000, 10, orderbook.GTC); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PlaceOrder("ETH", "USDC", "bob", orderbook.Buy, 1000, 4, orderbook.GTC); err != nil {
		t.Fatal(err)
	}
	restingID, err := e.PlaceOrder("ETH", "USDC", "alice", orderbook.Sell, 1200, 5, orderbook.GTC)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.CancelOrder("ETH", "USDC", "alice", restingID); err != nil {
		t.Fatal(err)
	}
	if err := e.Withdraw("bob", "ETH", 2); err != nil {
		t.Fatal(err)
	}
	if err := e.journal.Close(); err != nil {
		t.Fatal(err)
	}

	// Fresh exchange, same journal directory, no live journal handle.
	e2 := newTestExchange(t, "")
	if err := e2.ReplayJournal(dir); err != nil {
		t.Fatalf("replay: %v", err)
	}

	users := []string{"alice", "bob", "fees"}
	for _, u := range users {
		for _, c := range []string{"ETH", "USDC"} {
			if got, want := e2.Balance(u, c), e.Balance(u, c); got != want {
				t.Errorf("%s %s balance = %d, want %d", u, c, got, want)
			}
		}
	}

	b1, a1, err := e.Depth("ETH", "USDC", 10)
	if err != nil {
		t.Fatal(err)
	}
	b2, a2, err := e2.Depth("ETH", "USDC", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(b1) != len(b2) || len(a1) != len(a2) {
		t.Fatalf("depth shape diverged: (%d,%d) vs (%d,%d)", len(b1), len(a1), len(b2), len(a2))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Errorf("ask %d: %+v vs %+v", i, a1[i], a2[i])
		}
	}
	for i := range b1 {
		if b1[i] != b2[i] {
			t.Errorf("bid %d: %+v vs %+v", i, b1[i], b2[i])
		}
	}

	// Rejected operations replay as rejections, not as state drift: the
	// cancelled order must not resurface.
	orders, err := e2.UserActiveOrders("ETH", "USDC", "alice")
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range orders {
		if o.ID == restingID {
			t.Error("cancelled order resurfaced after replay")
		}
	}
}

// Trades produced during live trading land in the outbox; replay must not
// record them again.
func TestTradesRecordedOnceInOutbox(t *testing.T) {
	journalDir := t.TempDir()
	boxDir := t.TempDir()

	box, err := outbox.Open(boxDir)
	if err != nil {
		t.Fatal(err)
	}
	defer box.Close()

	journal, err := entrywal.Open(entrywal.Config{Dir: journalDir})
	if err != nil {
		t.Fatal(err)
	}

	led := ledger.New(ledger.Config{FeeReceiver: "fees"})
	e := NewExchange(led, registry.New(led), journal, box, sequence.New(0), "router", quietLogger())
	if _, err := e.CreatePool(orderbook.Config{Base: "ETH", Quote: "USDC", Owner: "owner"}); err != nil {
		t.Fatal(err)
	}

	if err := e.Deposit("alice", "ETH", 10); err != nil {
		t.Fatal(err)
	}
	if err := e.Deposit("bob", "USDC", 10000); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PlaceOrder("ETH", "USDC", "alice", orderbook.Sell, 1000, 10, orderbook.GTC); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PlaceOrder("ETH", "USDC", "bob", orderbook.Buy, 1000, 10, orderbook.GTC); err != nil {
		t.Fatal(err)
	}
	if err := journal.Close(); err != nil {
		t.Fatal(err)
	}

	countPending := func() int {
		n := 0
		if err := box.ScanPending(func(*outbox.Record) error { n++; return nil }); err != nil {
			t.Fatal(err)
		}
		return n
	}
	if got := countPending(); got != 1 {
		t.Fatalf("outbox has %d pending records, want 1", got)
	}

	led2 := ledger.New(ledger.Config{FeeReceiver: "fees"})
	e2 := NewExchange(led2, registry.New(led2), nil, box, sequence.New(0), "router", quietLogger())
	if _, err := e2.CreatePool(orderbook.Config{Base: "ETH", Quote: "USDC", Owner: "owner"}); err != nil {
		t.Fatal(err)
	}
	if err := e2.ReplayJournal(journalDir); err != nil {
		t.Fatal(err)
	}
	if got := countPending(); got != 1 {
		t.Errorf("replay duplicated outbox records: %d pending", got)
	}

	// The sequencer resumes past every seq already issued.
	boxMax, err := box.MaxSeq()
	if err != nil {
		t.Fatal(err)
	}
	if next := e2.seqGen.Next(); next <= boxMax {
		t.Errorf("sequencer issued %d, already used up to %d", next, boxMax)
	}
}
