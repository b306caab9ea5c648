package ruleset

import (
	"fmt"
	"strings"
	"time"

	"rewardkit/core"
)

// Document is the on-disk shape of a rule set. The same struct decodes YAML and JSON.
type Document struct {
	Categories []CategoryDoc `yaml:"categories,omitempty" json:"categories,omitempty"`
	Rules      []RuleDoc     `yaml:"rules" json:"rules"`
}

type CategoryDoc struct {
	ID                     string `yaml:"id" json:"id"`
	Name                   string `yaml:"name,omitempty" json:"name,omitempty"`
	Description            string `yaml:"description,omitempty" json:"description,omitempty"`
	Aggregation            string `yaml:"aggregation,omitempty" json:"aggregation,omitempty"`
	Spendable              bool   `yaml:"spendable,omitempty" json:"spendable,omitempty"`
	NegativeBalanceAllowed bool   `yaml:"negativeBalanceAllowed,omitempty" json:"negativeBalanceAllowed,omitempty"`
}

type RuleDoc struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name,omitempty" json:"name,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Triggers    []string       `yaml:"triggers" json:"triggers"`
	Conditions  []ConditionDoc `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Rewards     []RewardDoc    `yaml:"rewards,omitempty" json:"rewards,omitempty"`
	Spendings   []SpendingDoc  `yaml:"spendings,omitempty" json:"spendings,omitempty"`
	// Active defaults to true when omitted.
	Active    *bool      `yaml:"active,omitempty" json:"active,omitempty"`
	// Position defaults to the rule's index in the document when omitted.
	Position  *int       `yaml:"position,omitempty" json:"position,omitempty"`
	CreatedAt *time.Time `yaml:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt *time.Time `yaml:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

type ConditionDoc struct {
	ID         string         `yaml:"id,omitempty" json:"id,omitempty"`
	Type       string         `yaml:"type" json:"type"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// RewardDoc holds the union of reward fields; Type selects the variant.
type RewardDoc struct {
	ID          string         `yaml:"id,omitempty" json:"id,omitempty"`
	Type        string         `yaml:"type" json:"type"`
	Category    string         `yaml:"category,omitempty" json:"category,omitempty"`
	Amount      int64          `yaml:"amount,omitempty" json:"amount,omitempty"`
	Badge       string         `yaml:"badge,omitempty" json:"badge,omitempty"`
	Trophy      string         `yaml:"trophy,omitempty" json:"trophy,omitempty"`
	Level       int64          `yaml:"level,omitempty" json:"level,omitempty"`
	PenaltyType string         `yaml:"penaltyType,omitempty" json:"penaltyType,omitempty"`
	Target      string         `yaml:"target,omitempty" json:"target,omitempty"`
	Parameters  map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// SpendingDoc holds the union of spending fields; Type selects the variant.
type SpendingDoc struct {
	ID                   string `yaml:"id,omitempty" json:"id,omitempty"`
	Type                 string `yaml:"type" json:"type"`
	Category             string `yaml:"category" json:"category"`
	Description          string `yaml:"description,omitempty" json:"description,omitempty"`
	Amount               int64  `yaml:"amount,omitempty" json:"amount,omitempty"`
	AmountAttribute      string `yaml:"amountAttribute,omitempty" json:"amountAttribute,omitempty"`
	SourceAttribute      string `yaml:"sourceAttribute,omitempty" json:"sourceAttribute,omitempty"`
	Destination          string `yaml:"destination,omitempty" json:"destination,omitempty"`
	DestinationAttribute string `yaml:"destinationAttribute,omitempty" json:"destinationAttribute,omitempty"`
}

func (d CategoryDoc) toCategory() core.PointCategory {
	agg := core.Aggregation(strings.ToLower(strings.TrimSpace(d.Aggregation)))
	if agg == "" {
		agg = core.AggregationSum
	}
	name := d.Name
	if name == "" {
		name = d.ID
	}
	return core.PointCategory{
		ID:                     core.CategoryID(strings.TrimSpace(d.ID)),
		Name:                   name,
		Description:            d.Description,
		Aggregation:            agg,
		Spendable:              d.Spendable,
		NegativeBalanceAllowed: d.NegativeBalanceAllowed,
	}
}

func categoryDoc(c core.PointCategory) CategoryDoc {
	return CategoryDoc{
		ID:                     string(c.ID),
		Name:                   c.Name,
		Description:            c.Description,
		Aggregation:            string(c.Aggregation),
		Spendable:              c.Spendable,
		NegativeBalanceAllowed: c.NegativeBalanceAllowed,
	}
}

// toRule converts the document form. It reports variant problems but does
// not compile conditions.
func (d RuleDoc) toRule() (core.Rule, []string) {
	var problems []string
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	r := core.Rule{
		ID:          core.RuleID(strings.TrimSpace(d.ID)),
		Name:        d.Name,
		Description: d.Description,
		Active:      active,
	}
	if d.Position != nil {
		r.Position = *d.Position
	}
	if d.CreatedAt != nil {
		r.CreatedAt = d.CreatedAt.UTC()
	}
	if d.UpdatedAt != nil {
		r.UpdatedAt = d.UpdatedAt.UTC()
	}
	for _, t := range d.Triggers {
		r.Triggers = append(r.Triggers, core.EventType(strings.TrimSpace(t)))
	}
	for i, c := range d.Conditions {
		r.Conditions = append(r.Conditions, core.Condition{
			ID:         c.ID,
			Type:       core.ConditionType(strings.ToLower(strings.TrimSpace(c.Type))),
			Parameters: c.Parameters,
		})
		if strings.TrimSpace(c.Type) == "" {
			problems = append(problems, fmt.Sprintf("conditions[%d]: type is required", i))
		}
	}
	for i, rd := range d.Rewards {
		rw, err := rd.toReward()
		if err != nil {
			problems = append(problems, fmt.Sprintf("rewards[%d]: %v", i, err))
			continue
		}
		r.Rewards = append(r.Rewards, rw)
	}
	for i, sd := range d.Spendings {
		sp, err := sd.toSpending()
		if err != nil {
			problems = append(problems, fmt.Sprintf("spendings[%d]: %v", i, err))
			continue
		}
		r.Spendings = append(r.Spendings, sp)
	}
	return r, problems
}

func (d RewardDoc) toReward() (core.Reward, error) {
	meta := core.RewardMeta{ID: d.ID, Parameters: d.Parameters}
	switch core.RewardKind(strings.ToLower(strings.TrimSpace(d.Type))) {
	case core.RewardPoints:
		if d.Category == "" {
			return nil, fmt.Errorf("points reward needs a category")
		}
		if d.Amount == 0 {
			return nil, fmt.Errorf("points reward needs a non-zero amount")
		}
		return core.PointsReward{RewardMeta: meta, Category: core.CategoryID(d.Category), Amount: d.Amount}, nil
	case core.RewardBadge:
		if err := core.ValidateAwardID(d.Badge); err != nil {
			return nil, fmt.Errorf("badge %q: %w", d.Badge, err)
		}
		return core.BadgeReward{RewardMeta: meta, Badge: core.Badge(d.Badge)}, nil
	case core.RewardTrophy:
		if err := core.ValidateAwardID(d.Trophy); err != nil {
			return nil, fmt.Errorf("trophy %q: %w", d.Trophy, err)
		}
		return core.TrophyReward{RewardMeta: meta, Trophy: core.Trophy(d.Trophy)}, nil
	case core.RewardLevel:
		if d.Category == "" {
			return nil, fmt.Errorf("level reward needs a category")
		}
		if d.Level < 0 {
			return nil, fmt.Errorf("level cannot be negative")
		}
		return core.LevelReward{RewardMeta: meta, Category: core.CategoryID(d.Category), Level: d.Level}, nil
	case core.RewardPenalty:
		// Unknown penalty types are accepted here and fail when applied.
		return core.PenaltyReward{
			RewardMeta: meta,
			Penalty:    core.PenaltyKind(strings.ToLower(strings.TrimSpace(d.PenaltyType))),
			Category:   core.CategoryID(d.Category),
			Target:     d.Target,
			Amount:     d.Amount,
		}, nil
	default:
		return nil, fmt.Errorf("unknown reward type %q", d.Type)
	}
}

func (d SpendingDoc) toSpending() (core.Spending, error) {
	meta := core.SpendingMeta{ID: d.ID, Category: core.CategoryID(strings.TrimSpace(d.Category)), Description: d.Description}
	if meta.Category == "" {
		return nil, fmt.Errorf("category is required")
	}
	if d.Amount < 0 {
		return nil, fmt.Errorf("amount cannot be negative")
	}
	if d.Amount == 0 && d.AmountAttribute == "" {
		return nil, fmt.Errorf("amount or amountAttribute is required")
	}
	switch core.SpendingKind(strings.ToLower(strings.TrimSpace(d.Type))) {
	case core.SpendingTransaction:
		return core.TransactionSpending{SpendingMeta: meta, Amount: d.Amount, AmountAttribute: d.AmountAttribute}, nil
	case core.SpendingTransfer:
		if d.Destination == "" && d.DestinationAttribute == "" {
			return nil, fmt.Errorf("transfer needs destination or destinationAttribute")
		}
		return core.TransferSpending{
			SpendingMeta:         meta,
			Amount:               d.Amount,
			AmountAttribute:      d.AmountAttribute,
			SourceAttribute:      d.SourceAttribute,
			Destination:          core.UserID(d.Destination),
			DestinationAttribute: d.DestinationAttribute,
		}, nil
	default:
		return nil, fmt.Errorf("unknown spending type %q", d.Type)
	}
}

// RuleToDoc converts a rule back into its document form.
func RuleToDoc(r core.Rule) RuleDoc {
	active := r.Active
	pos := r.Position
	d := RuleDoc{
		ID:          string(r.ID),
		Name:        r.Name,
		Description: r.Description,
		Active:      &active,
		Position:    &pos,
	}
	if !r.CreatedAt.IsZero() {
		t := r.CreatedAt
		d.CreatedAt = &t
	}
	if !r.UpdatedAt.IsZero() {
		t := r.UpdatedAt
		d.UpdatedAt = &t
	}
	for _, t := range r.Triggers {
		d.Triggers = append(d.Triggers, string(t))
	}
	for _, c := range r.Conditions {
		d.Conditions = append(d.Conditions, ConditionDoc{ID: c.ID, Type: string(c.Type), Parameters: c.Parameters})
	}
	for _, rw := range r.Rewards {
		m := rw.Meta()
		w := docWriter{reward: RewardDoc{ID: m.ID, Type: string(rw.Kind()), Parameters: m.Parameters}}
		rw.Accept(&w)
		d.Rewards = append(d.Rewards, w.reward)
	}
	for _, sp := range r.Spendings {
		m := sp.Meta()
		w := docWriter{spending: SpendingDoc{ID: m.ID, Type: string(sp.Kind()), Category: string(m.Category), Description: m.Description}}
		sp.Accept(&w)
		d.Spendings = append(d.Spendings, w.spending)
	}
	return d
}

// docWriter fills the variant fields of a reward or spending document.
type docWriter struct {
	reward   RewardDoc
	spending SpendingDoc
}

func (w *docWriter) VisitPoints(v core.PointsReward) core.Outcome {
	w.reward.Category, w.reward.Amount = string(v.Category), v.Amount
	return core.Outcome{}
}

func (w *docWriter) VisitBadge(v core.BadgeReward) core.Outcome {
	w.reward.Badge = string(v.Badge)
	return core.Outcome{}
}

func (w *docWriter) VisitTrophy(v core.TrophyReward) core.Outcome {
	w.reward.Trophy = string(v.Trophy)
	return core.Outcome{}
}

func (w *docWriter) VisitLevel(v core.LevelReward) core.Outcome {
	w.reward.Category, w.reward.Level = string(v.Category), v.Level
	return core.Outcome{}
}

func (w *docWriter) VisitPenalty(v core.PenaltyReward) core.Outcome {
	w.reward.PenaltyType, w.reward.Category = string(v.Penalty), string(v.Category)
	w.reward.Target, w.reward.Amount = v.Target, v.Amount
	return core.Outcome{}
}

func (w *docWriter) VisitTransaction(v core.TransactionSpending) core.Outcome {
	w.spending.Amount, w.spending.AmountAttribute = v.Amount, v.AmountAttribute
	return core.Outcome{}
}

func (w *docWriter) VisitTransfer(v core.TransferSpending) core.Outcome {
	w.spending.Amount, w.spending.AmountAttribute = v.Amount, v.AmountAttribute
	w.spending.SourceAttribute = v.SourceAttribute
	w.spending.Destination, w.spending.DestinationAttribute = string(v.Destination), v.DestinationAttribute
	return core.Outcome{}
}
