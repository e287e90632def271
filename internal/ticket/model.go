package ticket

import (
	"strings"
	"time"
)

// Status tracks where a ticket is in its lifecycle.
type Status string

const (
	// StatusOpen means submitted, not yet looked at
	StatusOpen Status = "open"

	// StatusTriaged means classified and waiting in a queue
	StatusTriaged Status = "triaged"

	// StatusWaitingHuman means handed off to a human agent
	StatusWaitingHuman Status = "waiting_human"

	// StatusResolved means answered, either automatically or by an agent
	StatusResolved Status = "resolved"

	// StatusClosed means closed for good
	StatusClosed Status = "closed"
)

// forward lists the statuses each status may move to. Nothing moves backwards.
var forward = map[Status][]Status{
	StatusOpen:         {StatusTriaged, StatusWaitingHuman, StatusResolved, StatusClosed},
	StatusTriaged:      {StatusWaitingHuman, StatusResolved, StatusClosed},
	StatusWaitingHuman: {StatusResolved, StatusClosed},
	StatusResolved:     {StatusClosed},
	StatusClosed:       nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := forward[s]
	return ok
}

// CanTransition reports whether a ticket in status s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range forward[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no automated action may touch a ticket in status s.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Category is the fixed set of support queues.
type Category string

const (
	CategoryBilling  Category = "billing"
	CategoryTech     Category = "tech"
	CategoryShipping Category = "shipping"
	CategoryOther    Category = "other"
)

// Categories is the full category enum in display order.
var Categories = []Category{CategoryBilling, CategoryTech, CategoryShipping, CategoryOther}

// ParseCategory maps free-form input onto the enum. Anything unknown becomes CategoryOther.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryBilling, CategoryTech, CategoryShipping, CategoryOther:
		return c
	default:
		return CategoryOther
	}
}

// AuthorType tags who wrote a reply.
type AuthorType string

const (
	AuthorUser   AuthorType = "user"
	AuthorAgent  AuthorType = "agent"
	AuthorSystem AuthorType = "system"
)

// SystemAuthorID is the author reference used for replies written by automation.
const SystemAuthorID = "system"

// Reply is a single immutable message on a ticket.
type Reply struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	AuthorID   string     `json:"author_id"`
	AuthorType AuthorType `json:"author_type"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Ticket is a customer support request.
type Ticket struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	Status      Status    `json:"status"`
	CreatorID   string    `json:"creator_id"`
	AssigneeID  string    `json:"assignee_id,omitempty"`
	Replies     []Reply   `json:"replies,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Text is the title and description joined, the input every triage stage works from.
func (t *Ticket) Text() string {
	return t.Title + "\n" + t.Description
}

// Clone returns a deep copy so stores never share slices with callers.
func (t *Ticket) Clone() *Ticket {
	cp := *t
	cp.Replies = append([]Reply(nil), t.Replies...)
	cp.Attachments = append([]string(nil), t.Attachments...)
	return &cp
}
