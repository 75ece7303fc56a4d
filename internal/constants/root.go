package constants

import "time"

// Origin records how a lesson instance came into existence
type Origin string

// Lifecycle is the user-visible state of a lesson instance
type Lifecycle string

// SubjectKind distinguishes tutored students from personal habits
type SubjectKind string

const (
	AppName            = "lessonsync"
	DefaultKeyringUser = "database-connection"
	DefaultConfigDir   = "~/.config/lessonsync"
	DefaultDBPath      = "~/.config/lessonsync/lessonsync.db"
	DefaultConfigFile  = "config.yaml"
	Version            = "v0.2.0"

	// EnvDBConnection holds a PostgreSQL connection string (may include credentials)
	EnvDBConnection = "LESSONSYNC_DB_CONNECTION"

	// DateFormat is the standard date format used throughout the application (YYYY-MM-DD)
	DateFormat = "2006-01-02"

	// TimeFormat is the standard time format used throughout the application (HH:MM)
	TimeFormat = "15:04"

	// DateTimeFormat is used for user-supplied instants such as makeup lessons
	DateTimeFormat = "2006-01-02 15:04"

	// Reconciliation defaults
	DefaultHorizonWeeks      = 8
	MaxHorizonWeeks          = 52
	DefaultStoreTimeout      = 10 * time.Second
	DefaultEnsureConcurrency = 4
	DefaultTimezone          = "Local"

	// Backup constants
	MaxBackups       = 14
	BackupDirName    = "backups"
	BackupFilePrefix = "lessonsync-"
	BackupFileSuffix = ".db"

	OriginTemplate Origin = "template-generated"
	OriginMakeup   Origin = "manual-makeup"

	LifecycleScheduled Lifecycle = "scheduled"
	LifecycleCompleted Lifecycle = "completed"
	LifecycleCancelled Lifecycle = "cancelled"

	SubjectKindStudent SubjectKind = "student"
	SubjectKindHabit   SubjectKind = "habit"
)
