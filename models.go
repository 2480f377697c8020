package main

import "time"

// Swipe decisions as stored on interest_edges.decision
const (
	DecisionInterested = "interested"
	DecisionPassed     = "passed"
)

// Profile represents a user's dating profile as used by the ranker and the
// discovery feed. Blocked carries the user's own block set so that ranking can
// exclude blocked pairs without extra lookups.
type Profile struct {
	UserID       int              `json:"id"`
	DisplayName  string           `json:"display_name"`
	BirthDate    *time.Time       `json:"birth_date,omitempty"`
	Gender       string           `json:"gender,omitempty"`
	InterestedIn []string         `json:"interested_in,omitempty"`
	LookingFor   []string         `json:"looking_for,omitempty"`
	InterestTags []string         `json:"interest_tags,omitempty"`
	Photos       []string         `json:"photos,omitempty"`
	LocationLat  *float64         `json:"location_lat,omitempty"`
	LocationLon  *float64         `json:"location_lon,omitempty"`
	Rating       int              `json:"rating"`
	IsComplete   bool             `json:"is_complete"`
	Blocked      map[int]struct{} `json:"-"`
}

// Age returns the profile's age in full years at the given instant,
// or -1 when no birth date is set.
func (p *Profile) Age(now time.Time) int {
	if p.BirthDate == nil {
		return -1
	}
	b := *p.BirthDate
	age := now.Year() - b.Year()
	if now.Month() < b.Month() || (now.Month() == b.Month() && now.Day() < b.Day()) {
		age--
	}
	return age
}

// PrimaryPhoto returns the first photo of the ordered photo list, or a placeholder.
func (p *Profile) PrimaryPhoto() string {
	if len(p.Photos) > 0 {
		return p.Photos[0]
	}
	return "avatar_placeholder.png"
}

// Filters are the recognized feed options. LookingFor is advisory only and
// never hard-excludes a candidate.
type Filters struct {
	MaxDistanceKm float64
	MinAge        int
	MaxAge        int
	InterestedIn  []string
	LookingFor    []string
}

// DefaultFilters returns the documented defaults: 100 km, ages 18..99, no
// gender filter.
func DefaultFilters() Filters {
	return Filters{MaxDistanceKm: 100, MinAge: 18, MaxAge: 99}
}

// RankedCandidate is a feed entry: the candidate profile plus the computed
// compatibility score and the display distance (0 when either side has no
// coordinate).
type RankedCandidate struct {
	Profile
	Score      int     `json:"score"`
	DistanceKm float64 `json:"distance_km"`
}

// InterestEdge is one directional swipe decision. At most one edge exists per
// ordered (actor, target) pair; a new decision overwrites the old one.
type InterestEdge struct {
	ActorID   int       `json:"actor_id"`
	TargetID  int       `json:"target_id"`
	Decision  string    `json:"decision"`
	DecidedAt time.Time `json:"decided_at"`
}

// Match is the undirected pairing created when two interest edges reciprocate.
// Identity is the canonical pair key "lo:hi" (numerically ordered user IDs), so
// both swipe paths address the same row. Display name and primary photo of both
// participants are snapshotted at creation time for fast list rendering.
type Match struct {
	PairKey   string    `json:"pair_key"`
	UserLo    int       `json:"user_lo"`
	UserHi    int       `json:"user_hi"`
	CreatedAt time.Time `json:"created_at"`
	NameLo    string    `json:"name_lo"`
	NameHi    string    `json:"name_hi"`
	PhotoLo   string    `json:"photo_lo"`
	PhotoHi   string    `json:"photo_hi"`
	UnreadLo  int       `json:"unread_lo"`
	UnreadHi  int       `json:"unread_hi"`
}

// OtherUser returns the participant that is not userID.
func (m *Match) OtherUser(userID int) int {
	if m.UserLo == userID {
		return m.UserHi
	}
	return m.UserLo
}

// UnreadFor returns the unread counter belonging to userID.
func (m *Match) UnreadFor(userID int) int {
	if m.UserLo == userID {
		return m.UnreadLo
	}
	return m.UnreadHi
}

// SwipeResult is what a submitted swipe resolves to.
type SwipeResult struct {
	IsMatch   bool   `json:"is_match"`
	Match     *Match `json:"match,omitempty"`
	Remaining int    `json:"swipes_remaining"`
}

// ChatMessage represents a message inside a conversation channel.
type ChatMessage struct {
	ID      int64     `json:"id"`
	Type    string    `json:"type"` // "message" | "typing"
	PairKey string    `json:"pair_key,omitempty"`
	From    int       `json:"from"`
	To      int       `json:"to,omitempty"`
	Body    string    `json:"body,omitempty"`
	Ts      time.Time `json:"ts"`
}
