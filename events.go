package jellypoint

import "fmt"

// Level is the severity an EventID is logged at.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// EventCategory groups EventIDs by the part of the provider that raises them.
type EventCategory string

const (
	CategoryValidation     EventCategory = "Model.Validation"
	CategoryInfrastructure EventCategory = "Infrastructure"
	CategoryMigrations     EventCategory = "Migrations"
	CategoryScaffolding    EventCategory = "Scaffolding"
	CategoryCommand        EventCategory = "Database.Command"
)

// EventID identifies a kind of log event. The numeric IDs are stable between
// releases; new IDs are only added at the end of their category block.
type EventID struct {
	ID       int
	Name     string
	Category EventCategory
	Level    Level
}

func (e EventID) String() string {
	return fmt.Sprintf("%s.%s(%d)", e.Category, e.Name, e.ID)
}

const (
	validationBase = 30000
	infraBase      = 30100
	migrationsBase = 30200
	commandBase    = 30300
	scaffoldBase   = 35000
)

var (
	ListConfiguredWarning           = EventID{validationBase, "ListConfiguredWarning", CategoryValidation, LevelWarn}
	CompositeKeyWithValueGeneration = EventID{validationBase + 1, "CompositeKeyWithValueGeneration", CategoryValidation, LevelWarn}

	UnexpectedConnectionTypeWarning = EventID{infraBase, "UnexpectedConnectionTypeWarning", CategoryInfrastructure, LevelWarn}
	ProviderOpened                  = EventID{infraBase + 1, "ProviderOpened", CategoryInfrastructure, LevelInfo}
	ProviderClosed                  = EventID{infraBase + 2, "ProviderClosed", CategoryInfrastructure, LevelDebug}

	ListRebuildPendingWarning = EventID{migrationsBase, "ListRebuildPendingWarning", CategoryMigrations, LevelWarn}
	MigrationLockAcquired     = EventID{migrationsBase + 1, "MigrationLockAcquired", CategoryMigrations, LevelDebug}
	MigrationRecorded         = EventID{migrationsBase + 2, "MigrationRecorded", CategoryMigrations, LevelInfo}

	RequestExecuted = EventID{commandBase, "RequestExecuted", CategoryCommand, LevelTrace}
	RequestFailed   = EventID{commandBase + 1, "RequestFailed", CategoryCommand, LevelDebug}
	CommandExecuted = EventID{commandBase + 2, "CommandExecuted", CategoryCommand, LevelDebug}

	FieldFound               = EventID{scaffoldBase, "FieldFound", CategoryScaffolding, LevelDebug}
	LookupFieldFound         = EventID{scaffoldBase + 1, "LookupFieldFound", CategoryScaffolding, LevelDebug}
	MissingListWarning       = EventID{scaffoldBase + 5, "MissingListWarning", CategoryScaffolding, LevelWarn}
	PrimaryKeyFound          = EventID{scaffoldBase + 6, "PrimaryKeyFound", CategoryScaffolding, LevelDebug}
	ContentTypesNotSupported = EventID{scaffoldBase + 7, "ContentTypesNotSupportedWarning", CategoryScaffolding, LevelWarn}
	ListFound                = EventID{scaffoldBase + 8, "ListFound", CategoryScaffolding, LevelDebug}
	UnknownFieldTypeWarning  = EventID{scaffoldBase + 11, "OutOfRangeWarning", CategoryScaffolding, LevelWarn}
)
