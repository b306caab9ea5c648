package engine

import (
	"fmt"
	"time"

	"rewardkit/core"
)

// HistoryRecorder builds the audit record for every reward or spending
// attempt, successful or not.
type HistoryRecorder struct{}

// Record returns the history entry for one attempt.
func (HistoryRecorder) Record(itemID, itemType string, user core.UserID, rule core.RuleID, trigger core.EventID, at time.Time, out core.Outcome) core.RewardHistory {
	return core.RewardHistory{
		ID:             core.NewHistoryID(),
		UserID:         user,
		RuleID:         rule,
		RewardID:       itemID,
		RewardType:     itemType,
		TriggerEventID: trigger,
		AwardedAt:      at,
		Success:        out.Success,
		Message:        out.Message,
		Details:        out.Details,
	}
}

// action is one reward or spending of a fired rule.
type action struct {
	id       string
	reward   core.Reward
	spending core.Spending
}

func rewardAction(rule core.RuleID, i int, r core.Reward) action {
	id := r.Meta().ID
	if id == "" {
		id = fmt.Sprintf("%s/rewards[%d]", rule, i)
	}
	return action{id: id, reward: r}
}

func spendingAction(rule core.RuleID, i int, s core.Spending) action {
	id := s.Meta().ID
	if id == "" {
		id = fmt.Sprintf("%s/spendings[%d]", rule, i)
	}
	return action{id: id, spending: s}
}

func (a action) kind() string {
	if a.reward != nil {
		return string(a.reward.Kind())
	}
	return string(a.spending.Kind())
}

type visitor interface {
	core.RewardVisitor
	core.SpendingVisitor
}

func (a action) accept(v visitor) core.Outcome {
	if a.reward != nil {
		return a.reward.Accept(v)
	}
	return a.spending.Accept(v)
}

// lockPlanner collects the keys an action will touch. Transfers resolve
// their parties up front; an unresolvable transfer only locks the actor.
type lockPlanner struct {
	event core.Event
	user  core.UserID
	keys  []string
}

func (p *lockPlanner) add(user core.UserID, cat core.CategoryID) core.Outcome {
	p.keys = append(p.keys, UserKey(user))
	if cat != "" {
		p.keys = append(p.keys, WalletKey(user, cat))
	}
	return core.Outcome{}
}

func (p *lockPlanner) VisitPoints(r core.PointsReward) core.Outcome   { return p.add(p.user, r.Category) }
func (p *lockPlanner) VisitBadge(core.BadgeReward) core.Outcome       { return p.add(p.user, "") }
func (p *lockPlanner) VisitTrophy(core.TrophyReward) core.Outcome     { return p.add(p.user, "") }
func (p *lockPlanner) VisitLevel(core.LevelReward) core.Outcome       { return p.add(p.user, "") }
func (p *lockPlanner) VisitPenalty(r core.PenaltyReward) core.Outcome { return p.add(p.user, r.Category) }

func (p *lockPlanner) VisitTransaction(s core.TransactionSpending) core.Outcome {
	return p.add(p.user, s.Category)
}

func (p *lockPlanner) VisitTransfer(s core.TransferSpending) core.Outcome {
	from, to, _, err := resolveTransfer(s, p.event, p.user)
	if err != nil {
		return p.add(p.user, "")
	}
	p.add(from, s.Category)
	return p.add(to, s.Category)
}

func lockKeys(a action, ev core.Event, user core.UserID) []string {
	p := &lockPlanner{event: ev, user: user}
	a.accept(p)
	return p.keys
}
