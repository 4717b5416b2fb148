package httpapi

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"supporthub/internal/sse"
)

type Deps struct {
	DB            *pgxpool.Pool
	SessionPepper string

	// Shared secret the automation service presents on its webhook calls.
	AutomationWebhookToken string

	Registry  *sse.Registry
	Admitter  *sse.Admitter
	Publisher sse.Publisher
}
