package engine

import (
	"fmt"

	"rewardkit/core"
)

// applier executes rewards and spendings for one rule firing against a
// workspace. It implements both core.RewardVisitor and core.SpendingVisitor,
// so a new variant does not compile until it is handled here.
type applier struct {
	ws    *workspace
	event core.Event
	rule  core.Rule
	user  core.UserID
}

var (
	_ core.RewardVisitor   = (*applier)(nil)
	_ core.SpendingVisitor = (*applier)(nil)
)

func (a *applier) stamp(ev core.DomainEvent) core.DomainEvent {
	ev.RuleID = a.rule.ID
	ev.TriggerEventID = a.event.ID
	ev.Time = a.ws.now
	return ev
}

func (a *applier) VisitPoints(r core.PointsReward) core.Outcome {
	cat, found := a.ws.category(r.Category)
	if a.ws.err != nil {
		return core.Outcome{}
	}
	details := map[string]any{"category": string(r.Category), "amount": r.Amount}
	if found && cat.Spendable {
		return a.walletPoints(r, cat, details)
	}
	st := a.ws.state(a.user)
	if st == nil {
		return core.Outcome{}
	}
	next, err := core.AddSafe(st.state.Points[r.Category], r.Amount)
	if err != nil {
		return core.Failed(err, details)
	}
	st.state.Points[r.Category] = next
	st.touch(a.ws.now)
	details["total"] = next
	a.ws.emit(a.stamp(core.NewPointsAdded(a.user, r.Category, r.Amount, next)))
	return core.Succeeded(fmt.Sprintf("added %d %s", r.Amount, r.Category), details)
}

// walletPoints routes a points reward on a spendable category through the ledger.
func (a *applier) walletPoints(r core.PointsReward, cat core.PointCategory, details map[string]any) core.Outcome {
	desc := fmt.Sprintf("rule %s", a.rule.ID)
	var (
		e   *walletEntry
		err error
	)
	if r.Amount > 0 {
		e, err = a.ws.credit(a.user, cat.ID, r.Amount, core.TxEarned, desc, string(a.event.ID))
	} else {
		e, err = a.ws.debit(a.user, cat, -r.Amount, desc, string(a.event.ID))
	}
	if a.ws.err != nil {
		return core.Outcome{}
	}
	if err != nil {
		return core.Failed(err, details)
	}
	details["total"] = e.wallet.Balance
	a.ws.emit(a.stamp(core.NewPointsAdded(a.user, cat.ID, r.Amount, e.wallet.Balance)))
	return core.Succeeded(fmt.Sprintf("added %d %s", r.Amount, cat.ID), details)
}

func (a *applier) VisitBadge(r core.BadgeReward) core.Outcome {
	st := a.ws.state(a.user)
	if st == nil {
		return core.Outcome{}
	}
	details := map[string]any{"badge": string(r.Badge)}
	if st.state.HasBadge(r.Badge) {
		return core.Succeeded(fmt.Sprintf("badge %s already awarded", r.Badge), details)
	}
	st.state.Badges[r.Badge] = struct{}{}
	st.touch(a.ws.now)
	a.ws.emit(a.stamp(core.NewBadgeAwarded(a.user, r.Badge)))
	return core.Succeeded(fmt.Sprintf("awarded badge %s", r.Badge), details)
}

func (a *applier) VisitTrophy(r core.TrophyReward) core.Outcome {
	st := a.ws.state(a.user)
	if st == nil {
		return core.Outcome{}
	}
	details := map[string]any{"trophy": string(r.Trophy)}
	if st.state.HasTrophy(r.Trophy) {
		return core.Succeeded(fmt.Sprintf("trophy %s already awarded", r.Trophy), details)
	}
	st.state.Trophies[r.Trophy] = struct{}{}
	st.touch(a.ws.now)
	a.ws.emit(a.stamp(core.NewTrophyAwarded(a.user, r.Trophy)))
	return core.Succeeded(fmt.Sprintf("awarded trophy %s", r.Trophy), details)
}

// VisitLevel records the level for a category. It does not gate on points.
func (a *applier) VisitLevel(r core.LevelReward) core.Outcome {
	st := a.ws.state(a.user)
	if st == nil {
		return core.Outcome{}
	}
	level := r.Level
	if level == 0 {
		level = core.DefaultLevel(st.state.Points[r.Category])
	}
	prev := st.state.Levels[r.Category]
	details := map[string]any{"category": string(r.Category), "level": level, "previous": prev}
	if prev == level {
		return core.Succeeded(fmt.Sprintf("%s level unchanged at %d", r.Category, level), details)
	}
	st.state.Levels[r.Category] = level
	st.touch(a.ws.now)
	a.ws.emit(a.stamp(core.NewLevelUp(a.user, r.Category, level)))
	return core.Succeeded(fmt.Sprintf("%s level set to %d", r.Category, level), details)
}

func (a *applier) VisitPenalty(r core.PenaltyReward) core.Outcome {
	details := map[string]any{"penalty_type": string(r.Penalty)}
	switch r.Penalty {
	case core.PenaltyPoints:
		return a.penalizePoints(r, details)
	case core.PenaltyBadge:
		st := a.ws.state(a.user)
		if st == nil {
			return core.Outcome{}
		}
		b := core.Badge(r.Target)
		details["badge"] = r.Target
		if !st.state.HasBadge(b) {
			return core.Succeeded(fmt.Sprintf("badge %s not held", b), details)
		}
		delete(st.state.Badges, b)
		st.touch(a.ws.now)
		a.ws.emit(a.penaltyEvent(core.DomainEvent{Badge: b}))
		return core.Succeeded(fmt.Sprintf("revoked badge %s", b), details)
	case core.PenaltyTrophy:
		st := a.ws.state(a.user)
		if st == nil {
			return core.Outcome{}
		}
		tr := core.Trophy(r.Target)
		details["trophy"] = r.Target
		if !st.state.HasTrophy(tr) {
			return core.Succeeded(fmt.Sprintf("trophy %s not held", tr), details)
		}
		delete(st.state.Trophies, tr)
		st.touch(a.ws.now)
		a.ws.emit(a.penaltyEvent(core.DomainEvent{Trophy: tr}))
		return core.Succeeded(fmt.Sprintf("revoked trophy %s", tr), details)
	default:
		return core.Failed(fmt.Errorf("%w %q", core.ErrUnknownPenaltyType, r.Penalty), details)
	}
}

// penalizePoints subtracts points, flooring at zero unless the category
// allows negative balances.
func (a *applier) penalizePoints(r core.PenaltyReward, details map[string]any) core.Outcome {
	details["category"] = string(r.Category)
	details["amount"] = r.Amount
	if r.Amount <= 0 {
		return core.Failed(fmt.Errorf("%w: penalty of %d", core.ErrInvalidAmount, r.Amount), details)
	}
	cat, found := a.ws.category(r.Category)
	if a.ws.err != nil {
		return core.Outcome{}
	}
	allowNegative := found && cat.NegativeBalanceAllowed
	if found && cat.Spendable {
		e := a.ws.wallet(a.user, cat.ID)
		if e == nil {
			return core.Outcome{}
		}
		deduct := floorDeduction(e.wallet.Balance, r.Amount, allowNegative)
		if deduct > 0 {
			if _, err := a.ws.post(e, -deduct, core.TxSpent, fmt.Sprintf("penalty by rule %s", a.rule.ID), string(a.event.ID), nil); err != nil {
				return core.Failed(err, details)
			}
		}
		if a.ws.err != nil {
			return core.Outcome{}
		}
		details["deducted"] = deduct
		details["total"] = e.wallet.Balance
		a.ws.emit(a.penaltyEvent(core.DomainEvent{Category: cat.ID, Delta: -deduct, Total: e.wallet.Balance}))
		return core.Succeeded(fmt.Sprintf("deducted %d %s", deduct, cat.ID), details)
	}
	st := a.ws.state(a.user)
	if st == nil {
		return core.Outcome{}
	}
	cur := st.state.Points[r.Category]
	deduct := floorDeduction(cur, r.Amount, allowNegative)
	next, err := core.AddSafe(cur, -deduct)
	if err != nil {
		return core.Failed(err, details)
	}
	st.state.Points[r.Category] = next
	st.touch(a.ws.now)
	details["deducted"] = deduct
	details["total"] = next
	a.ws.emit(a.penaltyEvent(core.DomainEvent{Category: r.Category, Delta: -deduct, Total: next}))
	return core.Succeeded(fmt.Sprintf("deducted %d %s", deduct, r.Category), details)
}

func (a *applier) penaltyEvent(ev core.DomainEvent) core.DomainEvent {
	ev.Type = core.EventPenaltyApplied
	ev.UserID = a.user
	return a.stamp(ev)
}

func floorDeduction(balance, amount int64, allowNegative bool) int64 {
	if allowNegative || balance >= amount {
		return amount
	}
	if balance <= 0 {
		return 0
	}
	return balance
}
