package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gmflicense/pkg/contracts/domain"
)

// ConsumeRequest describes a token consumption
type ConsumeRequest struct {
	LicenseKey     string
	MachineID      string
	Tokens         int64
	Reason         string
	AdditionalInfo string
}

func (r ConsumeRequest) validate() error {
	if err := ValidateKeyFormat(r.LicenseKey); err != nil {
		return err
	}
	if r.MachineID == "" {
		return fmt.Errorf("%w: machine id is required", ErrInvalidRequest)
	}
	if r.Tokens < 1 {
		return fmt.Errorf("%w: tokens must be at least 1", ErrInvalidRequest)
	}
	if r.Reason == "" {
		return fmt.Errorf("%w: reason is required", ErrInvalidRequest)
	}
	return nil
}

// Consume spends req.Tokens from the license balance.
//
// The license status is read fresh from the store, never from cache, and the
// balance check and decrement happen in one conditional store operation.
// Cached snapshots are left alone and may show the old balance until they expire.
func (s *Service) Consume(ctx context.Context, req ConsumeRequest) (res *domain.ConsumeResult, err error) {
	ctx, span := s.startOp(ctx, "consume", req.LicenseKey)
	start := time.Now()
	defer func() {
		s.endOp(ctx, span, "consume", req.LicenseKey, start, err,
			slog.String("machine_id", req.MachineID),
			slog.Int64("tokens", req.Tokens))
	}()

	if err = req.validate(); err != nil {
		return nil, err
	}

	lic, err := s.loadUsable(ctx, req.LicenseKey)
	if err != nil {
		s.auditFailure(ctx, lic, domain.UsageConsumeToken, req.MachineID, err)
		return nil, err
	}

	remaining, err := s.decrement(ctx, lic.ID, req.Tokens)
	if err != nil {
		if errors.Is(err, ErrInsufficientTokens) {
			s.metrics.tokenRejected(ctx)
		}
		s.auditFailure(ctx, lic, domain.UsageConsumeToken, req.MachineID, err)
		return nil, err
	}
	s.metrics.tokensConsumed(ctx, req.Tokens)

	metadata := map[string]interface{}{
		"reason":    req.Reason,
		"timestamp": s.clock().Format(time.RFC3339Nano),
	}
	if req.AdditionalInfo != "" {
		metadata["additionalInfo"] = req.AdditionalInfo
	}

	tokens := req.Tokens
	if _, rerr := s.record(ctx, lic.ID, domain.UsageConsumeToken, req.MachineID, &tokens, metadata); rerr != nil {
		// The decrement is committed; retrying the consumption would double-charge.
		s.logger.ErrorContext(ctx, "tokens consumed without usage event",
			slog.String("license_id", lic.ID),
			slog.Int64("tokens", tokens),
			slog.Int64("tokens_remaining", remaining))
	}

	return &domain.ConsumeResult{
		TokensConsumed:  req.Tokens,
		TokensRemaining: remaining,
	}, nil
}

func (s *Service) decrement(ctx context.Context, licenseID string, amount int64) (int64, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	remaining, err := s.store.DecrementTokens(sctx, licenseID, amount)
	if err != nil {
		return 0, storeError("decrement tokens", err)
	}
	return remaining, nil
}
