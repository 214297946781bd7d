package models

// All lists every model handled by AutoMigrate.
var All = []any{
	&Workflow{},
	&Task{},
	&JobRun{},
}
