package core

// RewardKind tags a reward variant.
type RewardKind string

const (
	RewardPoints  RewardKind = "points"
	RewardBadge   RewardKind = "badge"
	RewardTrophy  RewardKind = "trophy"
	RewardLevel   RewardKind = "level"
	RewardPenalty RewardKind = "penalty"
)

// PenaltyKind selects what a penalty takes away.
type PenaltyKind string

const (
	PenaltyPoints PenaltyKind = "points"
	PenaltyBadge  PenaltyKind = "badge"
	PenaltyTrophy PenaltyKind = "trophy"
)

// Outcome is the result of applying one reward or spending.
type Outcome struct {
	Success bool
	Message string
	Details map[string]any
}

// Succeeded builds a successful outcome.
func Succeeded(msg string, details map[string]any) Outcome {
	return Outcome{Success: true, Message: msg, Details: details}
}

// Failed builds an unsuccessful outcome from a business error.
func Failed(err error, details map[string]any) Outcome {
	return Outcome{Success: false, Message: err.Error(), Details: details}
}

// RewardMeta carries the fields shared by every reward variant.
type RewardMeta struct {
	ID string
	// Parameters is free-form configuration kept for auditing.
	Parameters map[string]any
}

// Reward is a closed set of variants: only types in this package can
// implement it. Consumers dispatch through a RewardVisitor, so adding a
// variant fails to compile until every visitor handles it.
type Reward interface {
	Kind() RewardKind
	Meta() RewardMeta
	Accept(v RewardVisitor) Outcome
	isReward()
}

// RewardVisitor handles each reward variant.
type RewardVisitor interface {
	VisitPoints(PointsReward) Outcome
	VisitBadge(BadgeReward) Outcome
	VisitTrophy(TrophyReward) Outcome
	VisitLevel(LevelReward) Outcome
	VisitPenalty(PenaltyReward) Outcome
}

// PointsReward adds Amount to a category. Amount may be negative.
type PointsReward struct {
	RewardMeta
	Category CategoryID
	Amount   int64
}

// BadgeReward grants a badge once.
type BadgeReward struct {
	RewardMeta
	Badge Badge
}

// TrophyReward grants a trophy once.
type TrophyReward struct {
	RewardMeta
	Trophy Trophy
}

// LevelReward records a level for a category. A zero Level is derived from
// the category total with DefaultLevel.
type LevelReward struct {
	RewardMeta
	Category CategoryID
	Level    int64
}

// PenaltyReward takes points, a badge or a trophy away.
type PenaltyReward struct {
	RewardMeta
	Penalty  PenaltyKind
	Category CategoryID
	// Target is the badge or trophy id for badge and trophy penalties.
	Target string
	Amount int64
}

func (r PointsReward) Kind() RewardKind  { return RewardPoints }
func (r BadgeReward) Kind() RewardKind   { return RewardBadge }
func (r TrophyReward) Kind() RewardKind  { return RewardTrophy }
func (r LevelReward) Kind() RewardKind   { return RewardLevel }
func (r PenaltyReward) Kind() RewardKind { return RewardPenalty }

func (r PointsReward) Meta() RewardMeta  { return r.RewardMeta }
func (r BadgeReward) Meta() RewardMeta   { return r.RewardMeta }
func (r TrophyReward) Meta() RewardMeta  { return r.RewardMeta }
func (r LevelReward) Meta() RewardMeta   { return r.RewardMeta }
func (r PenaltyReward) Meta() RewardMeta { return r.RewardMeta }

func (PointsReward) isReward()  {}
func (BadgeReward) isReward()   {}
func (TrophyReward) isReward()  {}
func (LevelReward) isReward()   {}
func (PenaltyReward) isReward() {}

func (r PointsReward) Accept(v RewardVisitor) Outcome  { return v.VisitPoints(r) }
func (r BadgeReward) Accept(v RewardVisitor) Outcome   { return v.VisitBadge(r) }
func (r TrophyReward) Accept(v RewardVisitor) Outcome  { return v.VisitTrophy(r) }
func (r LevelReward) Accept(v RewardVisitor) Outcome   { return v.VisitLevel(r) }
func (r PenaltyReward) Accept(v RewardVisitor) Outcome { return v.VisitPenalty(r) }
