package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gmflicense/pkg/contracts/domain"
)

// HeartbeatOK is the status reported by a successful heartbeat
const HeartbeatOK = "ok"

// Heartbeat records that machineID is alive on an ACTIVE license. It has no
// effect on the token balance.
func (s *Service) Heartbeat(ctx context.Context, key, machineID string) (res *domain.HeartbeatResult, err error) {
	ctx, span := s.startOp(ctx, "heartbeat", key)
	start := time.Now()
	defer func() {
		s.endOp(ctx, span, "heartbeat", key, start, err, slog.String("machine_id", machineID))
	}()

	if err = ValidateKeyFormat(key); err != nil {
		return nil, err
	}
	if machineID == "" {
		return nil, fmt.Errorf("%w: machine id is required", ErrInvalidRequest)
	}

	lic, err := s.loadUsable(ctx, key)
	if err != nil {
		s.auditFailure(ctx, lic, domain.UsageHeartbeat, machineID, err)
		return nil, err
	}

	if _, err = s.record(ctx, lic.ID, domain.UsageHeartbeat, machineID, nil, nil); err != nil {
		return nil, err
	}

	return &domain.HeartbeatResult{Status: HeartbeatOK}, nil
}
