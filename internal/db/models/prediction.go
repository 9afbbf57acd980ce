package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Prediction struct {
	bun.BaseModel `bun:"table:predictions"`

	ID            uuid.UUID `bun:",pk,type:uuid"`
	SourcePath    string    `bun:",notnull"`
	Fingerprint   string    `bun:",notnull"`
	Class         int       `bun:",notnull"`
	Label         string    `bun:",notnull"`
	Confidence    float64   `bun:",notnull"`
	LowConfidence bool      `bun:",notnull"`
	ModelHash     string    `bun:",nullzero"`
	CreatedAt     time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
