package api

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/mqtt"
	"github.com/sweeney/crib-sensor/internal/registry"
	"github.com/sweeney/crib-sensor/internal/wire"
)

// MQTTHandler feeds events received from the broker through Apply, the same
// path as the HTTP endpoints. There is no reply channel, so outcomes are logged.
func (s *Service) MQTTHandler(ctx context.Context) mqtt.Handler {
	return func(in mqtt.Incoming) {
		body, err := s.Apply(ctx, in.Type, in.SubjectID)
		switch {
		case errors.Is(err, registry.ErrUnknownSubject):
			s.logger.Warn("mqtt event for unknown subject",
				zap.String("subject_id", in.SubjectID),
				zap.String("type", string(in.Type)))
		case err != nil:
			s.logger.Error("mqtt event failed",
				zap.String("subject_id", in.SubjectID),
				zap.String("type", string(in.Type)),
				zap.Error(err))
		default:
			if ig, ok := body.(wire.Ignored); ok {
				s.logger.Info("mqtt event ignored",
					zap.String("subject_id", in.SubjectID),
					zap.String("type", string(in.Type)),
					zap.String("reason", ig.Reason),
					zap.Int("cooldown_remaining_minutes", ig.CooldownRemainingMinutes))
			}
		}
	}
}
