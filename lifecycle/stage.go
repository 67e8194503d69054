package lifecycle

import (
	"fmt"

	"github.com/pkg/errors"
)

// Stage is a named slot in the server lifecycle. Stages are ordered
// only within a single dispatch cycle; otherwise they are independent.
type Stage uint8

const (
	StageInit Stage = iota
	StageListening
	StageHandshake
	StageConnect
	StageReceiveMessage
	StageProcessMessage
	StageRespondMessage
	StageDisconnect
	StageShutdown
	StageError

	numStages
)

var stageNames = [numStages]string{
	StageInit:           "init",
	StageListening:      "listening",
	StageHandshake:      "handshake",
	StageConnect:        "connect",
	StageReceiveMessage: "receiveMessage",
	StageProcessMessage: "processMessage",
	StageRespondMessage: "respondMessage",
	StageDisconnect:     "disconnect",
	StageShutdown:       "shutdown",
	StageError:          "error",
}

func (s Stage) String() string {
	if s >= numStages {
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
	return stageNames[s]
}

// ParseStage resolves a stage by its registration name.
func ParseStage(name string) (Stage, error) {
	for i, v := range stageNames {
		if v == name {
			return Stage(i), nil
		}
	}
	return 0, errors.Errorf("lifecycle: unknown stage %q", name)
}
