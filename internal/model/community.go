package model

import "time"

// Community is a read-only catalog entry a user can ask to join.
type Community struct {
	ID          int64  `json:"community_id" db:"community_id" yaml:"-"`
	Name        string `json:"name"         db:"name"         yaml:"name"`
	Description string `json:"description"  db:"description"  yaml:"description"`
	Icon        string `json:"icon"         db:"icon"         yaml:"icon"`
	Color       string `json:"color"        db:"color"        yaml:"color"`
	MemberCount int    `json:"member_count" db:"member_count" yaml:"member_count"`
	IsActive    bool   `json:"is_active"    db:"is_active"    yaml:"-"`
}

// JoinStatus is the lifecycle state of a JoinRequest.
type JoinStatus string

const (
	JoinPending  JoinStatus = "pending"
	JoinApproved JoinStatus = "approved"
	JoinRejected JoinStatus = "rejected"
)

// Open reports whether the status blocks a new request for the same
// (user, community) pair.
func (s JoinStatus) Open() bool {
	return s == JoinPending || s == JoinApproved
}

// JoinRequest is a user's petition to belong to a community.
type JoinRequest struct {
	ID          int64      `json:"request_id"   db:"request_id"`
	CommunityID int64      `json:"community_id" db:"community_id"`
	UserID      string     `json:"user_id"      db:"user_id"`
	Status      JoinStatus `json:"status"       db:"status"`
	RequestedAt time.Time  `json:"requested_at" db:"requested_at"`
}

// Technology is a read-only catalog entry scoped to one community.
type Technology struct {
	ID          int64  `json:"tech_id"      db:"tech_id"      yaml:"-"`
	Name        string `json:"name"         db:"name"         yaml:"name"`
	Category    string `json:"category"     db:"category"     yaml:"category"`
	CommunityID int64  `json:"community_id" db:"community_id" yaml:"-"`
	IsActive    bool   `json:"is_active"    db:"is_active"    yaml:"-"`
}

// TechnologyInterest links a user to a technology they picked.
type TechnologyInterest struct {
	UserID    string    `json:"user_id"    db:"user_id"`
	TechID    int64     `json:"tech_id"    db:"tech_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TechnologyGroup is one category bucket of the technology picker.
type TechnologyGroup struct {
	Category     string       `json:"category"`
	Technologies []Technology `json:"technologies"`
}
