package payment

// intentState implements the state pattern for the intent lifecycle:
//
//	CREATED -> PROCESSING -> [REQUIRES_ACTION] -> COMPLETED | FAILED | CANCELLED
//	FAILED  -> PROCESSING (retry, while attempts < max)
//
// Any other move returns ErrInvalidTransition.
type intentState interface {
	status() Status
	onProcessing(i *Intent) (intentState, error)
	onRequiresAction(i *Intent, ref string) (intentState, error)
	onCompleted(i *Intent, ref string) (intentState, error)
	onFailed(i *Intent, reason, message string) (intentState, error)
	onCancelled(i *Intent) (intentState, error)
}

func stateFor(s Status) intentState {
	switch s {
	case StatusCreated:
		return createdState{}
	case StatusProcessing:
		return processingState{}
	case StatusRequiresAction:
		return requiresActionState{}
	case StatusCompleted:
		return completedState{}
	case StatusFailed:
		return failedState{}
	case StatusCancelled:
		return cancelledState{}
	default:
		return unknownState{s: s}
	}
}

// CanTransition reports whether the table allows from -> to, ignoring the retry budget.
func CanTransition(from, to Status) bool {
	scratch := &Intent{Status: from, MaxAttempts: 1}
	var err error
	switch to {
	case StatusProcessing:
		_, err = stateFor(from).onProcessing(scratch)
	case StatusRequiresAction:
		_, err = stateFor(from).onRequiresAction(scratch, "")
	case StatusCompleted:
		_, err = stateFor(from).onCompleted(scratch, "")
	case StatusFailed:
		_, err = stateFor(from).onFailed(scratch, "", "")
	case StatusCancelled:
		_, err = stateFor(from).onCancelled(scratch)
	default:
		return false
	}
	return err == nil
}

func startAttempt(i *Intent) (intentState, error) {
	i.Attempts++
	i.FailureReason = ""
	i.FailureMessage = ""
	i.NextAction = ""
	return processingState{}, nil
}

func recordFailure(i *Intent, reason, message string) (intentState, error) {
	i.FailureReason = reason
	i.FailureMessage = message
	return failedState{}, nil
}

func setRef(i *Intent, ref string) {
	if ref != "" {
		i.ProviderRef = ref
	}
}

type createdState struct{}

func (createdState) status() Status { return StatusCreated }

func (createdState) onProcessing(i *Intent) (intentState, error) { return startAttempt(i) }

func (createdState) onRequiresAction(*Intent, string) (intentState, error) {
	return nil, InvalidTransition(StatusCreated, StatusRequiresAction)
}

func (createdState) onCompleted(*Intent, string) (intentState, error) {
	return nil, InvalidTransition(StatusCreated, StatusCompleted)
}

func (createdState) onFailed(*Intent, string, string) (intentState, error) {
	return nil, InvalidTransition(StatusCreated, StatusFailed)
}

func (createdState) onCancelled(*Intent) (intentState, error) { return cancelledState{}, nil }

type processingState struct{}

func (processingState) status() Status { return StatusProcessing }

func (processingState) onProcessing(*Intent) (intentState, error) {
	return nil, InvalidTransition(StatusProcessing, StatusProcessing)
}

func (processingState) onRequiresAction(i *Intent, ref string) (intentState, error) {
	setRef(i, ref)
	return requiresActionState{}, nil
}

func (processingState) onCompleted(i *Intent, ref string) (intentState, error) {
	setRef(i, ref)
	return completedState{}, nil
}

func (processingState) onFailed(i *Intent, reason, message string) (intentState, error) {
	return recordFailure(i, reason, message)
}

func (processingState) onCancelled(*Intent) (intentState, error) { return cancelledState{}, nil }

type requiresActionState struct{}

func (requiresActionState) status() Status { return StatusRequiresAction }

func (requiresActionState) onProcessing(*Intent) (intentState, error) {
	return nil, InvalidTransition(StatusRequiresAction, StatusProcessing)
}

func (requiresActionState) onRequiresAction(*Intent, string) (intentState, error) {
	return nil, InvalidTransition(StatusRequiresAction, StatusRequiresAction)
}

func (requiresActionState) onCompleted(i *Intent, ref string) (intentState, error) {
	setRef(i, ref)
	return completedState{}, nil
}

func (requiresActionState) onFailed(i *Intent, reason, message string) (intentState, error) {
	return recordFailure(i, reason, message)
}

func (requiresActionState) onCancelled(*Intent) (intentState, error) { return cancelledState{}, nil }

type failedState struct{}

func (failedState) status() Status { return StatusFailed }

func (failedState) onProcessing(i *Intent) (intentState, error) {
	if !i.CanRetry() {
		return nil, RetryExhausted(i.Attempts)
	}
	return startAttempt(i)
}

func (failedState) onRequiresAction(*Intent, string) (intentState, error) {
	return nil, InvalidTransition(StatusFailed, StatusRequiresAction)
}

func (failedState) onCompleted(*Intent, string) (intentState, error) {
	return nil, InvalidTransition(StatusFailed, StatusCompleted)
}

func (failedState) onFailed(*Intent, string, string) (intentState, error) {
	return nil, InvalidTransition(StatusFailed, StatusFailed)
}

func (failedState) onCancelled(i *Intent) (intentState, error) {
	if !i.CanRetry() {
		return nil, InvalidTransition(StatusFailed, StatusCancelled)
	}
	return cancelledState{}, nil
}

type completedState struct{}

func (completedState) status() Status { return StatusCompleted }

func (completedState) onProcessing(*Intent) (intentState, error) {
	return nil, InvalidTransition(StatusCompleted, StatusProcessing)
}

func (completedState) onRequiresAction(*Intent, string) (intentState, error) {
	return nil, InvalidTransition(StatusCompleted, StatusRequiresAction)
}

func (completedState) onCompleted(*Intent, string) (intentState, error) {
	return nil, InvalidTransition(StatusCompleted, StatusCompleted)
}

func (completedState) onFailed(*Intent, string, string) (intentState, error) {
	return nil, InvalidTransition(StatusCompleted, StatusFailed)
}

func (completedState) onCancelled(*Intent) (intentState, error) {
	return nil, InvalidTransition(StatusCompleted, StatusCancelled)
}

type cancelledState struct{}

func (cancelledState) status() Status { return StatusCancelled }

func (cancelledState) onProcessing(*Intent) (intentState, error) {
	return nil, InvalidTransition(StatusCancelled, StatusProcessing)
}

func (cancelledState) onRequiresAction(*Intent, string) (intentState, error) {
	return nil, InvalidTransition(StatusCancelled, StatusRequiresAction)
}

func (cancelledState) onCompleted(*Intent, string) (intentState, error) {
	return nil, InvalidTransition(StatusCancelled, StatusCompleted)
}

func (cancelledState) onFailed(*Intent, string, string) (intentState, error) {
	return nil, InvalidTransition(StatusCancelled, StatusFailed)
}

func (cancelledState) onCancelled(*Intent) (intentState, error) {
	return nil, InvalidTransition(StatusCancelled, StatusCancelled)
}

// unknownState guards against corrupted records.
type unknownState struct{ s Status }

func (u unknownState) status() Status { return u.s }

func (u unknownState) onProcessing(*Intent) (intentState, error) {
	return nil, InvalidTransition(u.s, StatusProcessing)
}

func (u unknownState) onRequiresAction(*Intent, string) (intentState, error) {
	return nil, InvalidTransition(u.s, StatusRequiresAction)
}

func (u unknownState) onCompleted(*Intent, string) (intentState, error) {
	return nil, InvalidTransition(u.s, StatusCompleted)
}

func (u unknownState) onFailed(*Intent, string, string) (intentState, error) {
	return nil, InvalidTransition(u.s, StatusFailed)
}

func (u unknownState) onCancelled(*Intent) (intentState, error) {
	return nil, InvalidTransition(u.s, StatusCancelled)
}
