package syncfeed

// Input carries no fields; a sync job is a trigger.
type Input struct{}

type Output struct {
	Outcome   string `json:"syncOutcome"`
	Inserted  int    `json:"inserted"`
	Patched   int    `json:"patched"`
	Unchanged int    `json:"unchanged"`
	Conflicts int    `json:"conflicts"`
	Changed   bool   `json:"changed"`
}
