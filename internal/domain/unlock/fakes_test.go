package unlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/scoutlink/unlock-api/internal/domain/grant"
	"github.com/scoutlink/unlock-api/internal/domain/identity"
	"github.com/scoutlink/unlock-api/internal/domain/pricing"
	"github.com/scoutlink/unlock-api/internal/domain/wallet"
	"github.com/scoutlink/unlock-api/internal/pkg/email"
)

var testNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	txs      map[string]wallet.Transaction
	seq      int
	debits   int

	deleteErr  error
	restoreErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]decimal.Decimal{}, txs: map[string]wallet.Transaction{}}
}

func (l *fakeLedger) GetBalance(_ context.Context, operatorID string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[operatorID], nil
}

func (l *fakeLedger) Debit(_ context.Context, operatorID string, amount decimal.Decimal, txRef string, kinds wallet.KindCandidates) (*wallet.Movement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[operatorID]
	if !ok {
		return nil, wallet.ErrWalletNotFound
	}
	next, ok := wallet.Sub(balance, amount)
	if !ok {
		return nil, wallet.ErrInsufficientCredits
	}

	l.seq++
	id := fmt.Sprintf("tx-%d", l.seq)
	ref := txRef
	l.txs[id] = wallet.Transaction{
		ID: id, OperatorID: operatorID, Kind: string(kinds[0]), Status: wallet.StatusSettled,
		Credits: amount, TxRef: &ref, SettledAt: clock(),
	}
	l.balances[operatorID] = next
	l.debits++
	return &wallet.Movement{TxID: id, Kind: kinds[0], PreviousBalance: balance, Balance: next}, nil
}

func (l *fakeLedger) DeleteTransaction(_ context.Context, txID string) error {
	if l.deleteErr != nil {
		return l.deleteErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.txs[txID]; !ok {
		return wallet.ErrTransactionNotFound
	}
	delete(l.txs, txID)
	return nil
}

func (l *fakeLedger) RestoreBalance(_ context.Context, operatorID string, previous, current decimal.Decimal) error {
	if l.restoreErr != nil {
		return l.restoreErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[operatorID].Equal(current) {
		l.balances[operatorID] = previous
		return nil
	}
	l.balances[operatorID] = wallet.Add(l.balances[operatorID], previous.Sub(current))
	return nil
}

func (l *fakeLedger) LatestByRef(_ context.Context, operatorID, txRef string) (*wallet.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var latest *wallet.Transaction
	for _, t := range l.txs {
		t := t
		if t.OperatorID == operatorID && t.TxRef != nil && *t.TxRef == txRef {
			if latest == nil || t.SettledAt.After(latest.SettledAt) {
				latest = &t
			}
		}
	}
	return latest, nil
}

func (l *fakeLedger) txCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.txs)
}

type fakeGrants struct {
	mu        sync.Mutex
	grants    map[string]grant.Grant
	noSchema  bool
	readOnly  bool
	upsertErr error
}

func newFakeGrants() *fakeGrants {
	return &fakeGrants{grants: map[string]grant.Grant{}}
}

func pairKey(op, ath string) string { return op + "|" + ath }

func (s *fakeGrants) FindActive(_ context.Context, op, ath string) (*grant.Grant, error) {
	if s.noSchema {
		return nil, grant.ErrSchemaUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[pairKey(op, ath)]
	if !ok || !g.Active(clock()) {
		return nil, nil
	}
	return &g, nil
}

func (s *fakeGrants) FindLatest(_ context.Context, op, ath string) (*grant.Grant, error) {
	if s.noSchema {
		return nil, grant.ErrSchemaUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[pairKey(op, ath)]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (s *fakeGrants) Upsert(_ context.Context, g grant.Grant) (*grant.Grant, error) {
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	if s.noSchema || s.readOnly {
		g.Derived = true
		return &g, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g.Source = "op_contact_unlocks"
	s.grants[pairKey(g.OperatorID, g.AthleteID)] = g
	return &g, nil
}

func (s *fakeGrants) VoidAll(_ context.Context, op string) (*grant.VoidSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for k := range s.grants {
		if strings.HasPrefix(k, op+"|") {
			delete(s.grants, k)
			removed++
		}
	}
	return &grant.VoidSummary{
		OperatorID: op,
		Tables: []grant.TableOutcome{
			{Table: "op_contact_unlocks", Removed: removed, Attempted: true, Column: "op_id"},
			{Table: "op_unlocks", Skipped: true, Reason: "table_missing"},
		},
	}, nil
}

func (s *fakeGrants) CountActive(_ context.Context, op string) (*int64, error) {
	if s.noSchema {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, g := range s.grants {
		if strings.HasPrefix(k, op+"|") && g.Active(clock()) {
			n++
		}
	}
	return &n, nil
}

func (s *fakeGrants) Degraded(context.Context) (bool, error) {
	return s.noSchema || s.readOnly, nil
}

type fakePricing struct {
	tariff *pricing.Tariff
	err    error
}

func (p *fakePricing) Active(context.Context) (*pricing.Tariff, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.tariff == nil {
		return nil, pricing.ErrNoActivePrice
	}
	return p.tariff, nil
}

func tariff(cost string, days *int) *fakePricing {
	return &fakePricing{tariff: &pricing.Tariff{Code: pricing.DefaultProductCode, CreditsCost: decimal.RequireFromString(cost), ValidityDays: days}}
}

func days(n int) *int { return &n }

type fakeIdentities map[string]identity.Identity

func (f fakeIdentities) Lookup(_ context.Context, id string) identity.Identity {
	if i, ok := f[id]; ok {
		i.ID = id
		return i
	}
	return identity.Identity{ID: id}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (s *fakeSender) Send(_ context.Context, msg email.Message) (*email.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, msg)
	return &email.Delivery{StatusCode: 202, MessageID: "m"}, nil
}

func (s *fakeSender) messages() []email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]email.Message(nil), s.sent...)
}

var errBackend = errors.New("connection reset by peer")

type harness struct {
	saga    *Orchestrator
	ledger  *fakeLedger
	grants  *fakeGrants
	pricing *fakePricing
	sender  *fakeSender
	locker  *LocalLocker
}

func newHarness(p *fakePricing) *harness {
	h := &harness{
		ledger:  newFakeLedger(),
		grants:  newFakeGrants(),
		pricing: p,
		sender:  &fakeSender{},
		locker:  NewLocalLocker(),
	}
	ids := fakeIdentities{
		"op-1":  {FirstName: "North", LastName: "Club", Email: "scout@club.example"},
		"ath-9": {FirstName: "Ana", LastName: "Silva", Email: "ana@example.com", Phone: "+100"},
	}
	h.saga = NewOrchestrator(Deps{
		Ledger:     h.ledger,
		Grants:     h.grants,
		Pricing:    h.pricing,
		Identities: ids,
		Notifier:   NewNotifier(h.sender, email.NewRenderer(), "https://app.example"),
		Locker:     h.locker,
	})
	h.saga.now = clock
	return h
}
