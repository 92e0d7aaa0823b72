package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ChatType string

const (
	ChatTypeCandidateProspect           ChatType = "CandidateProspect"
	ChatTypeCandidateRecruiting         ChatType = "CandidateRecruiting"
	ChatTypeAllJobCandidates            ChatType = "AllJobCandidates"
	ChatTypeJobCreatorSourcePartner     ChatType = "JobCreatorSourcePartner"
	ChatTypeJobCreatorAllSourcePartners ChatType = "JobCreatorAllSourcePartners"
)

// ChatTypes lists every supported chat type.
var ChatTypes = []ChatType{
	ChatTypeCandidateProspect,
	ChatTypeCandidateRecruiting,
	ChatTypeAllJobCandidates,
	ChatTypeJobCreatorSourcePartner,
	ChatTypeJobCreatorAllSourcePartners,
}

func (t ChatType) IsValid() bool {
	for _, v := range ChatTypes {
		if t == v {
			return true
		}
	}
	return false
}

// TranslationKey is the suffix used under CHAT_INFO.* translation keys.
func (t ChatType) TranslationKey() string {
	switch t {
	case ChatTypeCandidateProspect:
		return "CANDIDATE_PROSPECT"
	case ChatTypeCandidateRecruiting:
		return "CANDIDATE_RECRUITING"
	case ChatTypeAllJobCandidates:
		return "ALL_JOB_CANDIDATES"
	case ChatTypeJobCreatorSourcePartner:
		return "JOB_CREATOR_SOURCE_PARTNER"
	case ChatTypeJobCreatorAllSourcePartners:
		return "JOB_CREATOR_ALL_SOURCE_PARTNERS"
	}
	return ""
}

type Chat struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name,omitempty"`
	Type            ChatType  `json:"type"`
	JobID           *int64    `json:"jobId,omitempty"`
	CandidateID     *int64    `json:"candidateId,omitempty"`
	SourcePartnerID *int64    `json:"sourcePartnerId,omitempty"`
	CreatedBy       int64     `json:"createdBy,omitempty"`
	CreatedDate     time.Time `json:"createdDate"`
}

// CreateChatRequest is the lookup criteria for a chat. Which ids are
// relevant depends on Type; the rest are ignored by Normalize.
type CreateChatRequest struct {
	Type            ChatType `json:"type"`
	JobID           *int64   `json:"jobId,omitempty"`
	CandidateID     *int64   `json:"candidateId,omitempty"`
	SourcePartnerID *int64   `json:"sourcePartnerId,omitempty"`
}

var (
	ErrMissingType          = errors.New("missing chat type")
	ErrMissingJob           = errors.New("missing job")
	ErrMissingCandidate     = errors.New("missing candidate")
	ErrMissingSourcePartner = errors.New("missing source partner")
)

// Validate checks that the ids required by the chat type are present.
func (r CreateChatRequest) Validate() error {
	if r.Type == "" {
		return ErrMissingType
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("unsupported chat type %q", r.Type)
	}
	needJob, needCandidate, needPartner := r.Type.requiredIDs()
	if needCandidate && r.CandidateID == nil {
		return ErrMissingCandidate
	}
	if needJob && r.JobID == nil {
		return ErrMissingJob
	}
	if needPartner && r.SourcePartnerID == nil {
		return ErrMissingSourcePartner
	}
	return nil
}

func (t ChatType) requiredIDs() (job, candidate, partner bool) {
	switch t {
	case ChatTypeCandidateProspect:
		return false, true, false
	case ChatTypeCandidateRecruiting:
		return true, true, false
	case ChatTypeAllJobCandidates, ChatTypeJobCreatorAllSourcePartners:
		return true, false, false
	case ChatTypeJobCreatorSourcePartner:
		return true, false, true
	}
	return false, false, false
}

// Normalize drops the ids that play no part in the chat's identity.
func (r CreateChatRequest) Normalize() CreateChatRequest {
	job, candidate, partner := r.Type.requiredIDs()
	out := CreateChatRequest{Type: r.Type}
	if job {
		out.JobID = r.JobID
	}
	if candidate {
		out.CandidateID = r.CandidateID
	}
	if partner {
		out.SourcePartnerID = r.SourcePartnerID
	}
	return out
}

// Key is a canonical serialization of the request: equal criteria give
// equal keys regardless of how the struct was built.
func (r CreateChatRequest) Key() string {
	var b strings.Builder
	b.WriteString(string(r.Type))
	writeID := func(name string, id *int64) {
		b.WriteString("|")
		b.WriteString(name)
		b.WriteString("=")
		if id != nil {
			b.WriteString(strconv.FormatInt(*id, 10))
		}
	}
	writeID("job", r.JobID)
	writeID("candidate", r.CandidateID)
	writeID("partner", r.SourcePartnerID)
	return b.String()
}

// Matches reports whether c is the chat identified by the normalized request.
func (r CreateChatRequest) Matches(c *Chat) bool {
	n := r.Normalize()
	if c.Type != n.Type {
		return false
	}
	job, candidate, partner := n.Type.requiredIDs()
	if job && !sameID(c.JobID, n.JobID) {
		return false
	}
	if candidate && !sameID(c.CandidateID, n.CandidateID) {
		return false
	}
	if partner && !sameID(c.SourcePartnerID, n.SourcePartnerID) {
		return false
	}
	return true
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ID returns a pointer to id, for building requests.
func ID(id int64) *int64 { return &id }

// ChatUserInfo is where a user has read up to in a chat. A nil LastPostID
// means the chat has no posts; a nil LastReadPostID means the user never
// marked it read.
type ChatUserInfo struct {
	LastPostID        *int64 `json:"lastPostId"`
	LastReadPostID    *int64 `json:"lastReadPostId"`
	NumberUnreadChats int    `json:"numberUnreadChats"`
}

// IsRead applies the read rule: no posts is read, never marked is unread,
// otherwise read iff the marker has reached the last post.
func (i ChatUserInfo) IsRead() bool {
	if i.LastPostID == nil {
		return true
	}
	if i.LastReadPostID == nil {
		return false
	}
	return *i.LastReadPostID >= *i.LastPostID
}

// ReadMarker records the last post a user has read in a chat.
type ReadMarker struct {
	ChatID         int64     `json:"chatId"`
	UserID         int64     `json:"userId"`
	LastReadPostID int64     `json:"lastReadPostId"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
