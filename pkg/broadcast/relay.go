package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EnableMic starts a microphone session: it writes the offer onto the
// screen record under a fresh session id and opens a new signaling log.
func (s *Synchronizer) EnableMic(ctx context.Context, tenant, id, sender string, offer SessionDescription) (Screen, error) {
	id = NormalizeScreenCode(id)
	if offer.SDP == "" {
		return Screen{}, fmt.Errorf("%w: offer sdp is required", ErrInvalid)
	}
	if offer.Type == "" {
		offer.Type = "offer"
	}

	if err := s.signals.ClearSignals(ctx, tenant, id); err != nil {
		return Screen{}, s.fail("enable mic", tenant, id, err)
	}

	session := uuid.NewString()
	screen, err := s.screens.UpdateScreen(ctx, tenant, id, 0, func(sc *Screen) error {
		sc.Mic = Mic{Enabled: true, Session: session, Offer: &offer}
		return nil
	})
	if err != nil {
		return Screen{}, s.fail("enable mic", tenant, id, err)
	}

	if _, err := s.signals.AppendSignal(ctx, tenant, id, SignalEntry{
		Session: session,
		Sender:  sender,
		Kind:    SignalOffer,
		Payload: offer.SDP,
		At:      time.Now().UTC(),
	}); err != nil {
		return Screen{}, s.fail("enable mic", tenant, id, err)
	}

	s.logger.Info("mic enabled", zap.String("tenant", tenant), zap.String("screen", id), zap.String("session", session))
	return screen, nil
}

// PublishCandidate writes an ICE candidate. The record's iceCandidate field
// keeps only the latest candidate; every candidate is also appended to the
// signaling log so none are lost.
func (s *Synchronizer) PublishCandidate(ctx context.Context, tenant, id, session, sender, candidate string) (Screen, error) {
	if candidate == "" {
		return Screen{}, fmt.Errorf("%w: candidate is required", ErrInvalid)
	}
	return s.publish(ctx, tenant, id, session, sender, SignalICE, candidate, func(m *Mic) {
		m.ICECandidate = candidate
	})
}

// PublishAnswer writes the viewer's answer to the current offer. The relay
// itself never produces answers.
func (s *Synchronizer) PublishAnswer(ctx context.Context, tenant, id, session, sender string, answer SessionDescription) (Screen, error) {
	if answer.SDP == "" {
		return Screen{}, fmt.Errorf("%w: answer sdp is required", ErrInvalid)
	}
	if answer.Type == "" {
		answer.Type = "answer"
	}
	return s.publish(ctx, tenant, id, session, sender, SignalAnswer, answer.SDP, func(m *Mic) {
		m.Answer = &answer
	})
}

func (s *Synchronizer) publish(ctx context.Context, tenant, id, session, sender string, kind SignalKind, payload string, apply func(*Mic)) (Screen, error) {
	id = NormalizeScreenCode(id)
	var active string
	screen, err := s.screens.UpdateScreen(ctx, tenant, id, 0, func(sc *Screen) error {
		if !sc.Mic.Enabled {
			return ErrMicDisabled
		}
		if session != "" && session != sc.Mic.Session {
			return ErrSessionMismatch
		}
		active = sc.Mic.Session
		apply(&sc.Mic)
		return nil
	})
	if err != nil {
		return Screen{}, s.fail("publish "+string(kind), tenant, id, err)
	}

	if _, err := s.signals.AppendSignal(ctx, tenant, id, SignalEntry{
		Session: active,
		Sender:  sender,
		Kind:    kind,
		Payload: payload,
		At:      time.Now().UTC(),
	}); err != nil {
		return Screen{}, s.fail("publish "+string(kind), tenant, id, err)
	}
	return screen, nil
}

// DisableMic clears every microphone field on the record and drops the
// session's signaling log
func (s *Synchronizer) DisableMic(ctx context.Context, tenant, id string) (Screen, error) {
	id = NormalizeScreenCode(id)
	screen, err := s.screens.UpdateScreen(ctx, tenant, id, 0, func(sc *Screen) error {
		sc.Mic = Mic{}
		return nil
	})
	if err != nil {
		return Screen{}, s.fail("disable mic", tenant, id, err)
	}
	if err := s.signals.ClearSignals(ctx, tenant, id); err != nil {
		return Screen{}, s.fail("disable mic", tenant, id, err)
	}
	s.logger.Info("mic disabled", zap.String("tenant", tenant), zap.String("screen", id))
	return screen, nil
}

// Signals returns log entries with Seq greater than since
func (s *Synchronizer) Signals(ctx context.Context, tenant, id string, since int64) ([]SignalEntry, error) {
	return s.signals.Signals(ctx, tenant, NormalizeScreenCode(id), since)
}
