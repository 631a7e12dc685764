package queue

import (
	"fmt"
	"strings"
	"time"
)

// UnitResultMessage is the broker payload for one completed unit.
type UnitResultMessage struct {
	BatchID     string    `json:"batchId"`
	UnitID      string    `json:"unitId"`
	Ordinal     int       `json:"ordinal"`
	Username    string    `json:"username"`
	Password    string    `json:"password"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

func (m UnitResultMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if strings.TrimSpace(m.UnitID) == "" {
		return fmt.Errorf("unitId is required")
	}
	if strings.TrimSpace(m.Username) == "" {
		return fmt.Errorf("username is required")
	}
	return nil
}

// BatchFinalizedMessage is the broker payload announcing a terminal batch.
type BatchFinalizedMessage struct {
	BatchID    string    `json:"batchId"`
	Requester  string    `json:"requester"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Aborted    int       `json:"aborted"`
	Metadata   string    `json:"metadata,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (m BatchFinalizedMessage) Validate() error {
	if strings.TrimSpace(m.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if m.Total < 1 {
		return fmt.Errorf("total must be at least 1")
	}
	if m.Completed+m.Failed+m.Aborted != m.Total {
		return fmt.Errorf("counters %d/%d/%d do not sum to total %d", m.Completed, m.Failed, m.Aborted, m.Total)
	}
	return nil
}
