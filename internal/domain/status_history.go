package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ProjectStatusHistory is the append-only audit trail of committed transitions.
type ProjectStatusHistory struct {
	Seq        int64          `gorm:"column:seq;primaryKey;autoIncrement" json:"seq"`
	ProjectID  uuid.UUID      `gorm:"column:project_id;type:uuid;not null;index" json:"project_id"`
	FromStatus ProjectStatus  `gorm:"column:from_status;type:varchar(32);not null" json:"from_status"`
	ToStatus   ProjectStatus  `gorm:"column:to_status;type:varchar(32);not null" json:"to_status"`
	Event      string         `gorm:"column:event;type:varchar(32);not null" json:"event"`
	ActorID    uuid.UUID      `gorm:"column:actor_id;type:uuid;not null" json:"actor_id"`
	Payload    datatypes.JSON `gorm:"column:payload" json:"payload"`
	CreatedAt  time.Time      `gorm:"column:createdAt" json:"createdAt"`
}

func (ProjectStatusHistory) TableName() string {
	return "ProjectStatusHistory"
}
