package engine

import (
	"fmt"

	"rewardkit/condition"
	"rewardkit/core"
)

// VisitTransaction debits the acting user's wallet.
func (a *applier) VisitTransaction(s core.TransactionSpending) core.Outcome {
	details := map[string]any{"category": string(s.Category)}
	amount, err := resolveAmount(s.Amount, s.AmountAttribute, a.event)
	if err != nil {
		return core.Failed(err, details)
	}
	details["amount"] = amount
	cat, err := a.spendableCategory(s.Category)
	if a.ws.err != nil {
		return core.Outcome{}
	}
	if err != nil {
		return core.Failed(err, details)
	}
	desc := s.Description
	if desc == "" {
		desc = fmt.Sprintf("rule %s", a.rule.ID)
	}
	e, err := a.ws.debit(a.user, cat, amount, desc, string(a.event.ID))
	if a.ws.err != nil {
		return core.Outcome{}
	}
	if err != nil {
		return core.Failed(err, details)
	}
	details["balance"] = e.wallet.Balance
	a.ws.emit(a.stamp(core.NewPointsSpent(a.user, cat.ID, amount, e.wallet.Balance)))
	return core.Succeeded(fmt.Sprintf("spent %d %s", amount, cat.ID), details)
}

// VisitTransfer moves points between two users. Once source, destination and
// amount resolve, a transfer record is kept whether or not it completes.
func (a *applier) VisitTransfer(s core.TransferSpending) core.Outcome {
	details := map[string]any{"category": string(s.Category)}
	from, to, amount, err := resolveTransfer(s, a.event, a.user)
	if err != nil {
		return core.Failed(err, details)
	}
	details["from"], details["to"], details["amount"] = string(from), string(to), amount

	cat, catErr := a.spendableCategory(s.Category)
	if a.ws.err != nil {
		return core.Outcome{}
	}
	var t core.WalletTransfer
	if catErr != nil {
		t = core.NewTransfer(from, to, s.Category, amount)
		t.Timestamp = a.ws.now
		t.Fail(catErr.Error())
		err = catErr
	} else {
		desc := s.Description
		if desc == "" {
			desc = fmt.Sprintf("transfer by rule %s", a.rule.ID)
		}
		t, err = a.ws.transferFunds(from, to, cat, amount, desc)
		if a.ws.err != nil {
			return core.Outcome{}
		}
	}
	a.ws.transfer = &t
	details["transfer_id"] = string(t.ID)
	details["status"] = string(t.Status)
	if err != nil {
		a.ws.emit(a.stamp(core.DomainEvent{
			Type: core.EventTransferFailed, UserID: from, Category: s.Category, Delta: -amount,
			Message: t.FailureReason, Metadata: map[string]any{"transfer_id": string(t.ID), "to": string(to)},
		}))
		return core.Failed(err, details)
	}
	a.ws.emit(a.stamp(core.DomainEvent{
		Type: core.EventTransferCompleted, UserID: from, Category: cat.ID, Delta: -amount,
		Metadata: map[string]any{"transfer_id": string(t.ID), "to": string(to)},
	}))
	return core.Succeeded(fmt.Sprintf("transferred %d %s from %s to %s", amount, cat.ID, from, to), details)
}

func (a *applier) spendableCategory(id core.CategoryID) (core.PointCategory, error) {
	cat, found := a.ws.category(id)
	if !found {
		return core.PointCategory{}, fmt.Errorf("%w %q", core.ErrUnknownCategory, id)
	}
	if !cat.Spendable {
		return core.PointCategory{}, fmt.Errorf("%w: %s", core.ErrCategoryNotSpendable, id)
	}
	return cat, nil
}

// resolveAmount prefers a positive literal and otherwise reads the named
// trigger attribute, which must hold a positive integer.
func resolveAmount(literal int64, attr string, ev core.Event) (int64, error) {
	if literal > 0 {
		return literal, nil
	}
	if attr == "" {
		return 0, fmt.Errorf("%w: no amount configured", core.ErrInvalidAmount)
	}
	raw, ok := ev.Attribute(attr)
	if !ok {
		return 0, fmt.Errorf("%w %q", core.ErrMissingAttribute, attr)
	}
	n, ok := condition.ToInt64(raw)
	if !ok || n <= 0 {
		return 0, fmt.Errorf("%w: attribute %q is %v", core.ErrInvalidAmount, attr, raw)
	}
	return n, nil
}

func resolveUser(literal core.UserID, attr string, ev core.Event, fallback core.UserID) (core.UserID, error) {
	id := literal
	if attr != "" {
		raw, ok := ev.Attribute(attr)
		if !ok {
			return "", fmt.Errorf("%w %q", core.ErrMissingAttribute, attr)
		}
		s, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("%w: attribute %q must be a user id", core.ErrMissingAttribute, attr)
		}
		id = core.UserID(s)
	}
	if id == "" {
		id = fallback
	}
	return core.NormalizeUserID(id)
}

func resolveTransfer(s core.TransferSpending, ev core.Event, actor core.UserID) (from, to core.UserID, amount int64, err error) {
	amount, err = resolveAmount(s.Amount, s.AmountAttribute, ev)
	if err != nil {
		return "", "", 0, err
	}
	from, err = resolveUser("", s.SourceAttribute, ev, actor)
	if err != nil {
		return "", "", 0, err
	}
	to, err = resolveUser(s.Destination, s.DestinationAttribute, ev, "")
	if err != nil {
		return "", "", 0, fmt.Errorf("%w: destination: %v", core.ErrMissingAttribute, err)
	}
	if from == to {
		return "", "", 0, fmt.Errorf("%w: %s", core.ErrSelfTransfer, from)
	}
	return from, to, amount, nil
}
