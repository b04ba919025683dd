package storage

import (
	"context"
	"time"

	logx "schoolbell/pkg/logx"
)

// ActivityLog is a fire-and-forget activity sink. Failures are logged and
// never reach the caller.
type ActivityLog struct {
	store Store
	log   logx.Logger
}

func NewActivityLog(store Store, log logx.Logger) *ActivityLog {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ActivityLog{store: store, log: log}
}

func (a *ActivityLog) LogActivity(typ, message string, details map[string]any) {
	if a == nil || a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.LogActivity(ctx, typ, message, details); err != nil {
		a.log.Warn("activity log write failed", logx.String("type", typ), logx.Err(err))
	}
}
