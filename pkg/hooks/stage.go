package hooks

import "fmt"

// Stage is a fixed phase marker hooks may order themselves against.
type Stage int

// Stage tags, in declaration order.
const (
	SamplesPresent Stage = iota
	SamplesFinalized
	FilesPresent
	FilesFinalized
	OutputPresent
	OutputFinalized
	OutputTransfered
	NotificationsFinalized
	NotificationsSent
)

var stageNames = map[Stage]string{
	SamplesPresent:         "SAMPLES_PRESENT",
	SamplesFinalized:       "SAMPLES_FINALIZED",
	FilesPresent:           "FILES_PRESENT",
	FilesFinalized:         "FILES_FINALIZED",
	OutputPresent:          "OUTPUT_PRESENT",
	OutputFinalized:        "OUTPUT_FINALIZED",
	OutputTransfered:       "OUTPUT_TRANSFERED",
	NotificationsFinalized: "NOTIFICATIONS_FINALIZED",
	NotificationsSent:      "NOTIFICATIONS_SENT",
}

func (stage Stage) String() string {
	name, known := stageNames[stage]
	if !known {
		return fmt.Sprintf("Stage(%d)", int(stage))
	}

	return name
}

// preStageOrder is the fixed stage sequence within the pre phase.
var preStageOrder = []Stage{
	SamplesPresent,
	SamplesFinalized,
	NotificationsFinalized,
	NotificationsSent,
	FilesPresent,
	FilesFinalized,
	OutputPresent,
	OutputFinalized,
}

// postStageOrder is the fixed stage sequence within the post phase.
var postStageOrder = []Stage{
	SamplesFinalized,
	OutputPresent,
	OutputFinalized,
	OutputTransfered,
	NotificationsFinalized,
	NotificationsSent,
}

// stageOrder returns the stage chain for a phase. Exception hooks have no
// stages.
func stageOrder(when When) []Stage {
	switch when {
	case Pre:
		return preStageOrder
	case Post:
		return postStageOrder
	default:
		return nil
	}
}

// stageAllowed reports whether a phase permits depending on a stage.
func stageAllowed(when When, stage Stage) bool {
	for _, allowed := range stageOrder(when) {
		if allowed == stage {
			return true
		}
	}

	return false
}
