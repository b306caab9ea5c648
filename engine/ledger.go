package engine

import (
	"context"
	"fmt"
	"time"

	"rewardkit/core"
)

type walletID struct {
	user     core.UserID
	category core.CategoryID
}

type stateEntry struct {
	state core.UserState
	dirty bool
}

type walletEntry struct {
	wallet   core.Wallet
	expected int64
	dirty    bool
}

type categoryEntry struct {
	category core.PointCategory
	found    bool
}

// workspace is the read-modify-write set of one attempt. Appliers mutate
// copies held here; nothing reaches storage until the unit of work built
// from it is committed.
type workspace struct {
	ctx   context.Context
	store Storage
	now   time.Time

	states      map[core.UserID]*stateEntry
	stateOrder  []core.UserID
	wallets     map[walletID]*walletEntry
	walletOrder []walletID
	categories  map[core.CategoryID]categoryEntry

	txs      []core.WalletTransaction
	transfer *core.WalletTransfer
	history  []core.RewardHistory
	events   []core.DomainEvent

	// err holds the first storage failure; once set the attempt is abandoned.
	err error
}

func newWorkspace(ctx context.Context, store Storage, now time.Time) *workspace {
	return &workspace{
		ctx:        ctx,
		store:      store,
		now:        now,
		states:     make(map[core.UserID]*stateEntry),
		wallets:    make(map[walletID]*walletEntry),
		categories: make(map[core.CategoryID]categoryEntry),
	}
}

func (w *workspace) fail(err error) core.Outcome {
	if w.err == nil {
		w.err = err
	}
	return core.Outcome{}
}

func (w *workspace) state(user core.UserID) *stateEntry {
	if e, ok := w.states[user]; ok {
		return e
	}
	st, found, err := w.store.GetUserState(w.ctx, user)
	if err != nil {
		w.fail(fmt.Errorf("get user state %s: %w", user, err))
		return nil
	}
	if !found {
		st = core.NewUserState(user)
	}
	st.Normalize()
	e := &stateEntry{state: st.Clone()}
	w.states[user] = e
	w.stateOrder = append(w.stateOrder, user)
	return e
}

func (e *stateEntry) touch(now time.Time) {
	e.dirty = true
	e.state.Updated = now
}

// category returns the registry entry for id; found is false for unregistered ids.
func (w *workspace) category(id core.CategoryID) (core.PointCategory, bool) {
	if e, ok := w.categories[id]; ok {
		return e.category, e.found
	}
	c, found, err := w.store.GetPointCategory(w.ctx, id)
	if err != nil {
		w.fail(fmt.Errorf("get point category %s: %w", id, err))
		return core.PointCategory{}, false
	}
	w.categories[id] = categoryEntry{category: c, found: found}
	return c, found
}

// wallet loads a wallet, creating an empty one when it does not exist yet.
func (w *workspace) wallet(user core.UserID, category core.CategoryID) *walletEntry {
	id := walletID{user: user, category: category}
	if e, ok := w.wallets[id]; ok {
		return e
	}
	wl, found, err := w.store.GetWallet(w.ctx, user, category)
	if err != nil {
		w.fail(fmt.Errorf("get wallet %s/%s: %w", user, category, err))
		return nil
	}
	if !found {
		wl = core.NewWallet(user, category)
	}
	e := &walletEntry{wallet: wl.Clone(), expected: wl.Version}
	w.wallets[id] = e
	w.walletOrder = append(w.walletOrder, id)
	return e
}

func (w *workspace) emit(ev core.DomainEvent) {
	w.events = append(w.events, ev)
}

// post appends a transaction to a loaded wallet and keeps the owner's
// category total equal to the wallet balance.
func (w *workspace) post(e *walletEntry, amount int64, typ core.TransactionType, desc, ref string, meta map[string]any) (core.WalletTransaction, error) {
	tx := core.WalletTransaction{
		ID:          core.NewTransactionID(),
		UserID:      e.wallet.UserID,
		Category:    e.wallet.Category,
		Amount:      amount,
		Type:        typ,
		Description: desc,
		ReferenceID: ref,
		Metadata:    meta,
		Timestamp:   w.now,
	}
	if err := e.wallet.Append(tx); err != nil {
		return core.WalletTransaction{}, err
	}
	e.dirty = true
	w.txs = append(w.txs, tx)
	if st := w.state(e.wallet.UserID); st != nil {
		st.state.Points[e.wallet.Category] = e.wallet.Balance
		st.touch(w.now)
	}
	return tx, nil
}

// credit adds a positive amount to a wallet.
func (w *workspace) credit(user core.UserID, category core.CategoryID, amount int64, typ core.TransactionType, desc, ref string) (*walletEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: credit of %d", core.ErrInvalidAmount, amount)
	}
	e := w.wallet(user, category)
	if e == nil {
		return nil, w.err
	}
	if _, err := w.post(e, amount, typ, desc, ref, nil); err != nil {
		return nil, err
	}
	return e, nil
}

// debit removes a positive amount from a wallet after the affordability check.
func (w *workspace) debit(user core.UserID, cat core.PointCategory, amount int64, desc, ref string) (*walletEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: debit of %d", core.ErrInvalidAmount, amount)
	}
	e := w.wallet(user, cat.ID)
	if e == nil {
		return nil, w.err
	}
	if !e.wallet.CanAfford(-amount, cat) {
		return nil, fmt.Errorf("%w: %s has %d %s, needs %d", core.ErrInsufficientBalance, user, e.wallet.Balance, cat.ID, amount)
	}
	if _, err := w.post(e, -amount, core.TxSpent, desc, ref, nil); err != nil {
		return nil, err
	}
	return e, nil
}

// transferFunds moves amount between two wallets. Both legs are appended or
// neither; the returned transfer is completed on success and failed otherwise.
func (w *workspace) transferFunds(from, to core.UserID, cat core.PointCategory, amount int64, desc string) (core.WalletTransfer, error) {
	t := core.NewTransfer(from, to, cat.ID, amount)
	t.Timestamp = w.now
	src := w.wallet(from, cat.ID)
	if src == nil {
		return t, w.err
	}
	dst := w.wallet(to, cat.ID)
	if dst == nil {
		return t, w.err
	}
	if !src.wallet.CanAfford(-amount, cat) {
		err := fmt.Errorf("%w: %s has %d %s, needs %d", core.ErrInsufficientBalance, from, src.wallet.Balance, cat.ID, amount)
		t.Fail(err.Error())
		return t, err
	}
	ref := string(t.ID)
	srcCopy, dstCopy, txsBefore := src.wallet.Clone(), dst.wallet.Clone(), len(w.txs)
	if _, err := w.post(src, -amount, core.TxTransferOut, desc, ref, map[string]any{"to": string(to)}); err != nil {
		t.Fail(err.Error())
		return t, err
	}
	if _, err := w.post(dst, amount, core.TxTransferIn, desc, ref, map[string]any{"from": string(from)}); err != nil {
		src.wallet, dst.wallet, w.txs = srcCopy, dstCopy, w.txs[:txsBefore]
		w.syncPoints(src)
		t.Fail(err.Error())
		return t, err
	}
	t.Complete(w.now)
	return t, nil
}

func (w *workspace) syncPoints(e *walletEntry) {
	if st := w.state(e.wallet.UserID); st != nil {
		st.state.Points[e.wallet.Category] = e.wallet.Balance
	}
}

// unitOfWork collects every change made in this workspace.
func (w *workspace) unitOfWork() core.UnitOfWork {
	var uow core.UnitOfWork
	for _, id := range w.stateOrder {
		if e := w.states[id]; e.dirty {
			uow.States = append(uow.States, e.state.Clone())
		}
	}
	for _, id := range w.walletOrder {
		if e := w.wallets[id]; e.dirty {
			uow.Wallets = append(uow.Wallets, core.WalletWrite{Wallet: e.wallet.Clone(), ExpectedVersion: e.expected})
		}
	}
	uow.Transactions = append(uow.Transactions, w.txs...)
	if w.transfer != nil {
		t := *w.transfer
		uow.Transfer = &t
	}
	uow.History = append(uow.History, w.history...)
	return uow
}

// reset discards pending writes so a dry run can reuse loaded state across attempts.
func (w *workspace) reset() {
	for _, e := range w.states {
		e.dirty = false
	}
	for _, e := range w.wallets {
		e.dirty = false
		e.expected = e.wallet.Version
	}
	w.txs, w.transfer, w.history, w.events = nil, nil, nil, nil
}
