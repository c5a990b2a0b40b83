package types

// Stage: шаг конвейера; используется в трассировке и в уведомлениях о прогрессе.
type Stage string

const (
	StageInterpreting Stage = "interpreting"
	StageHaltClarify  Stage = "halt_clarify"
	StagePlanning     Stage = "planning"
	StageRetrieving   Stage = "retrieving"
	StageRecalling    Stage = "recalling"
	StageSolving      Stage = "solving"
	StageVerifying    Stage = "verifying"
	StageHaltReview   Stage = "halt_review"
	StageExplaining   Stage = "explaining"
	StagePersisting   Stage = "persisting"
	StageDone         Stage = "done"
)

// Label: короткая подпись для пользовательских интерфейсов.
func (s Stage) Label() string {
	switch s {
	case StageInterpreting:
		return "Parsing problem"
	case StagePlanning:
		return "Planning strategy"
	case StageRetrieving:
		return "Retrieving knowledge"
	case StageRecalling:
		return "Finding similar solved problems"
	case StageSolving:
		return "Solving"
	case StageVerifying:
		return "Verifying solution"
	case StageExplaining:
		return "Writing explanation"
	case StagePersisting:
		return "Saving to memory"
	case StageDone:
		return "Complete"
	}
	return string(s)
}
