// Package registry is the single declarative table of collections that hold
// records referencing an Account by foreign key.
//
// The migration engine, the cascading deletion engine, and the pending-account
// sweep all walk this one table, so the three can never drift apart on which
// collections carry user data. Historically each script carried its own copy
// of the list; any collection added here is automatically migrated, swept,
// and deleted.
package registry

// Mapping ties a collection to the field that references an Account.
//
// ForeignKey is the field queried for the account's key. TargetKey is the
// field the migration engine writes the UID into; for most collections the
// two are equal, but the legacy student-id collections rename the field
// (studentId → userId) as part of the move.
type Mapping struct {
	Collection string
	ForeignKey string
	TargetKey  string
}

// Renamed reports whether migrating this mapping also renames the field.
func (m Mapping) Renamed() bool {
	return m.ForeignKey != m.TargetKey
}

// OwnerFields returns every field that may hold the account's key in this
// collection: the target field, plus the legacy field when the migration
// renames it. The deletion engine queries all of them so records survive
// neither before nor after a migration.
func (m Mapping) OwnerFields() []string {
	if m.Renamed() {
		return []string{m.TargetKey, m.ForeignKey}
	}
	return []string{m.ForeignKey}
}

func same(collection, field string) Mapping {
	return Mapping{Collection: collection, ForeignKey: field, TargetKey: field}
}

func renamed(collection, from, to string) Mapping {
	return Mapping{Collection: collection, ForeignKey: from, TargetKey: to}
}

// UserData lists every dependent-record collection, in the order the engines
// process them.
var UserData = []Mapping{
	// Core learning data (legacy student-id keyed).
	renamed("studentQuizzes", "studentId", "userId"),
	renamed("studentModules", "studentId", "userId"),
	renamed("assignmentSubmissions", "studentId", "userId"),

	// Core user data.
	same("userAchievements", "userId"),
	same("achievements", "userId"),
	same("enrollments", "userId"),
	same("userPreferences", "userId"),
	same("userActivity", "userId"),

	// Fitness data.
	same("bmiRecords", "userId"),
	same("workouts", "userId"),
	same("goals", "userId"),
	same("healthMetrics", "userId"),

	// Communication data. Messages are referenced from both sides.
	same("messages", "senderId"),
	same("messages", "recipientId"),
	same("notifications", "userId"),
}
