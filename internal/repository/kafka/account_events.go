package kafka

import (
	"context"
	"time"

	"github.com/NordCoder/authd/internal/domain/outbox"
	"github.com/google/uuid"
)

const EventAccountRegistered = "account.registered"

// AccountEvent is the wire shape of account lifecycle events. Credentials
// are never part of it.
type AccountEvent struct {
	Type       string    `json:"type"`
	AccountID  uuid.UUID `json:"account_id"`
	Email      string    `json:"email"`
	CreatedAt  time.Time `json:"created_at"`
	OccurredAt time.Time `json:"occurred_at"`
}

type AccountEvents struct {
	p   *Producer
	now func() time.Time
}

func NewAccountEvents(p *Producer) *AccountEvents {
	return &AccountEvents{p: p, now: func() time.Time { return time.Now().UTC() }}
}

func (e *AccountEvents) PublishAccountRegistered(ctx context.Context, in outbox.AccountRegisteredPayload) error {
	return e.p.PublishJSON(ctx, []byte(in.AccountID.String()), AccountEvent{
		Type:       EventAccountRegistered,
		AccountID:  in.AccountID,
		Email:      in.Email,
		CreatedAt:  in.CreatedAt,
		OccurredAt: e.now(),
	})
}
