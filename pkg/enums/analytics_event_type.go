package enums

import "fmt"

// AnalyticsEventType is the canonical event_type carried on the envelope.
type AnalyticsEventType string

const (
	AnalyticsEventDeckCreated             AnalyticsEventType = "deck_created"
	AnalyticsEventCardCreated             AnalyticsEventType = "card_created"
	AnalyticsEventLearningSessionStarted  AnalyticsEventType = "learning_session_started"
	AnalyticsEventLearningSessionFinished AnalyticsEventType = "learning_session_finished"
	AnalyticsEventCourseCreated           AnalyticsEventType = "course_created"
	AnalyticsEventCourseEnrolled          AnalyticsEventType = "course_enrolled"
	AnalyticsEventCourseProgressUpdated   AnalyticsEventType = "course_progress_updated"
	AnalyticsEventUserRegistered          AnalyticsEventType = "user_registered"
)

var validAnalyticsEventTypes = []AnalyticsEventType{
	AnalyticsEventDeckCreated,
	AnalyticsEventCardCreated,
	AnalyticsEventLearningSessionStarted,
	AnalyticsEventLearningSessionFinished,
	AnalyticsEventCourseCreated,
	AnalyticsEventCourseEnrolled,
	AnalyticsEventCourseProgressUpdated,
	AnalyticsEventUserRegistered,
}

// AnalyticsEventTypes returns every known event type in declaration order.
func AnalyticsEventTypes() []AnalyticsEventType {
	out := make([]AnalyticsEventType, len(validAnalyticsEventTypes))
	copy(out, validAnalyticsEventTypes)
	return out
}

// IsValid reports whether the value matches the canonical analytics event_type enum.
func (a AnalyticsEventType) IsValid() bool {
	for _, candidate := range validAnalyticsEventTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// Domain returns the producing domain for the event type.
func (a AnalyticsEventType) Domain() AnalyticsDomain {
	switch a {
	case AnalyticsEventDeckCreated, AnalyticsEventCardCreated:
		return AnalyticsDomainContent
	case AnalyticsEventLearningSessionStarted, AnalyticsEventLearningSessionFinished:
		return AnalyticsDomainLearning
	case AnalyticsEventCourseCreated, AnalyticsEventCourseEnrolled, AnalyticsEventCourseProgressUpdated:
		return AnalyticsDomainCourse
	case AnalyticsEventUserRegistered:
		return AnalyticsDomainUser
	default:
		return ""
	}
}

// ParseAnalyticsEventType converts the raw string to AnalyticsEventType.
func ParseAnalyticsEventType(value string) (AnalyticsEventType, error) {
	for _, candidate := range validAnalyticsEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid analytics event type %q", value)
}

// AnalyticsDomain groups event types by the upstream service that owns them.
type AnalyticsDomain string

const (
	AnalyticsDomainContent  AnalyticsDomain = "content"
	AnalyticsDomainLearning AnalyticsDomain = "learning"
	AnalyticsDomainCourse   AnalyticsDomain = "course"
	AnalyticsDomainUser     AnalyticsDomain = "user"
)
