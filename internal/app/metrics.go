package app

import "quiz-live-service/internal/domain"

// Metrics receives room and service counters. internal/telemetry provides the Prometheus one.
type Metrics interface {
	RoomOpened()
	RoomFinished(reason domain.FinishReason)
	ConnectionAttached(role domain.Role)
	ConnectionDetached(role domain.Role)
	AnswerAccepted(correct bool)
	AnswerRejected(kind string)
	EventDropped()
}

type nopMetrics struct{}

func (nopMetrics) RoomOpened() {}
func (nopMetrics) RoomFinished(domain.FinishReason) {}
func (nopMetrics) ConnectionAttached(domain.Role) {}
func (nopMetrics) ConnectionDetached(domain.Role) {}
func (nopMetrics) AnswerAccepted(bool) {}
func (nopMetrics) AnswerRejected(string) {}
func (nopMetrics) EventDropped() {}
