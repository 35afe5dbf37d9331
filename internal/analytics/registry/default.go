package registry

import (
	"fmt"

	"github.com/angelmondragon/events-collector/internal/analytics/mappers"
	"github.com/angelmondragon/events-collector/internal/analytics/payloads"
	"github.com/angelmondragon/events-collector/pkg/enums"
)

// TableSchema is the dataset holding every destination table.
const TableSchema = "analytics"

// KnownTables is the table catalog created by the shipped migrations.
var KnownTables = []string{
	TableName(enums.AnalyticsEventDeckCreated),
	TableName(enums.AnalyticsEventCardCreated),
	TableName(enums.AnalyticsEventLearningSessionStarted),
	TableName(enums.AnalyticsEventLearningSessionFinished),
	TableName(enums.AnalyticsEventCourseCreated),
	TableName(enums.AnalyticsEventCourseEnrolled),
	TableName(enums.AnalyticsEventCourseProgressUpdated),
	TableName(enums.AnalyticsEventUserRegistered),
}

// TableName returns the destination table for an event type.
func TableName(eventType enums.AnalyticsEventType) string {
	return TableSchema + "." + string(eventType)
}

// DefaultDescriptors enumerates every v1 event across the content, learning, course and user domains.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		// content
		{
			Key:     Key{EventType: enums.AnalyticsEventDeckCreated, Version: 1},
			Schema:  func() any { return &payloads.DeckCreatedV1{} },
			Table:   TableName(enums.AnalyticsEventDeckCreated),
			Columns: mappers.DeckCreatedColumns,
			Mapper:  mappers.DeckCreated,
		},
		{
			Key:     Key{EventType: enums.AnalyticsEventCardCreated, Version: 1},
			Schema:  func() any { return &payloads.CardCreatedV1{} },
			Table:   TableName(enums.AnalyticsEventCardCreated),
			Columns: mappers.CardCreatedColumns,
			Mapper:  mappers.CardCreated,
		},
		// learning
		{
			Key:     Key{EventType: enums.AnalyticsEventLearningSessionStarted, Version: 1},
			Schema:  func() any { return &payloads.LearningSessionStartedV1{} },
			Table:   TableName(enums.AnalyticsEventLearningSessionStarted),
			Columns: mappers.LearningSessionStartedColumns,
			Mapper:  mappers.LearningSessionStarted,
		},
		{
			Key:     Key{EventType: enums.AnalyticsEventLearningSessionFinished, Version: 1},
			Schema:  func() any { return &payloads.LearningSessionFinishedV1{} },
			Table:   TableName(enums.AnalyticsEventLearningSessionFinished),
			Columns: mappers.LearningSessionFinishedColumns,
			Mapper:  mappers.LearningSessionFinished,
		},
		// course
		{
			Key:     Key{EventType: enums.AnalyticsEventCourseCreated, Version: 1},
			Schema:  func() any { return &payloads.CourseCreatedV1{} },
			Table:   TableName(enums.AnalyticsEventCourseCreated),
			Columns: mappers.CourseCreatedColumns,
			Mapper:  mappers.CourseCreated,
		},
		{
			Key:     Key{EventType: enums.AnalyticsEventCourseEnrolled, Version: 1},
			Schema:  func() any { return &payloads.CourseEnrolledV1{} },
			Table:   TableName(enums.AnalyticsEventCourseEnrolled),
			Columns: mappers.CourseEnrolledColumns,
			Mapper:  mappers.CourseEnrolled,
		},
		{
			Key:     Key{EventType: enums.AnalyticsEventCourseProgressUpdated, Version: 1},
			Schema:  func() any { return &payloads.CourseProgressUpdatedV1{} },
			Table:   TableName(enums.AnalyticsEventCourseProgressUpdated),
			Columns: mappers.CourseProgressUpdatedColumns,
			Mapper:  mappers.CourseProgressUpdated,
		},
		// user
		{
			Key:     Key{EventType: enums.AnalyticsEventUserRegistered, Version: 1},
			Schema:  func() any { return &payloads.UserRegisteredV1{} },
			Table:   TableName(enums.AnalyticsEventUserRegistered),
			Columns: mappers.UserRegisteredColumns,
			Mapper:  mappers.UserRegistered,
		},
	}
}

// Default builds and validates the production registry.
func Default() (*Registry, error) {
	reg, err := New(DefaultDescriptors()...)
	if err != nil {
		return nil, err
	}
	if err := reg.Validate(KnownTables); err != nil {
		return nil, fmt.Errorf("invalid event registry: %w", err)
	}
	return reg, nil
}
