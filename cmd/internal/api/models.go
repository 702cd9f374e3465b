package api

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"parley/cmd/identity"
	"parley/cmd/internal/chat"
)

type sendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

func (r *sendMessageRequest) fromForm(v url.Values) { r.Content = v.Get("content") }

type addFriendRequest struct {
	Username string `json:"username" validate:"required,max=255"`
}

func (r *addFriendRequest) fromForm(v url.Values) { r.Username = v.Get("username") }

type categoryRequest struct {
	Category string `json:"category" validate:"max=64"`
}

func (r *categoryRequest) fromForm(v url.Values) { r.Category = v.Get("category") }

type markDeliveredRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

// fromForm accepts repeated ids=1&ids=2 values; unparsable ids are kept as
// zero so validation rejects them.
func (r *markDeliveredRequest) fromForm(v url.Values) {
	r.IDs = lo.Map(v["ids"], func(s string, _ int) int64 {
		n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		return n
	})
}

type messageResponse struct {
	ID         int64      `json:"id"`
	SenderID   int64      `json:"senderId"`
	ReceiverID int64      `json:"receiverId"`
	Content    string     `json:"content"`
	SentAt     *time.Time `json:"sentAt"`
	Delivered  bool       `json:"delivered"`
}

type friendResponse struct {
	ID       int64      `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email,omitempty"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen"`
}

// addFriendResponse keeps the {success, message} outcome shape for every
// friend-add result, including errors.
type addFriendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func toMessageResponse(m chat.Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		SentAt:     m.SentAt,
		Delivered:  m.Delivered,
	}
}

func toMessageResponses(ms []chat.Message) []messageResponse {
	return lo.Map(ms, func(m chat.Message, _ int) messageResponse { return toMessageResponse(m) })
}

func toFriendResponses(us []identity.User) []friendResponse {
	return lo.Map(us, func(u identity.User, _ int) friendResponse {
		return friendResponse{
			ID:       u.ID,
			Username: u.Username,
			Email:    u.Email,
			Online:   u.Online,
			LastSeen: u.LastSeen,
		}
	})
}
