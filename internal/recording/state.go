package recording

// State is the position of a job in the ingestion state machine
type State int

const (
	StatePending State = iota
	StateFound
	StateInProgress
	StateTooSmall
	StateUpToDate
	StateDownloading
	StateDownloadFailed
	StateUploading
	StateUploadFailed
	StateCoverGenerating
	StateCoverFailed
	StatePersisted
	StatePersistFailed
	StateDiscoveryFailed
)

var stateNames = map[State]string{
	StatePending:         "PENDING",
	StateFound:           "FOUND",
	StateInProgress:      "IN_PROGRESS",
	StateTooSmall:        "TOO_SMALL",
	StateUpToDate:        "UP_TO_DATE",
	StateDownloading:     "DOWNLOADING",
	StateDownloadFailed:  "DOWNLOAD_FAILED",
	StateUploading:       "UPLOADING",
	StateUploadFailed:    "UPLOAD_FAILED",
	StateCoverGenerating: "COVER_GENERATING",
	StateCoverFailed:     "COVER_FAILED",
	StatePersisted:       "PERSISTED",
	StatePersistFailed:   "PERSIST_FAILED",
	StateDiscoveryFailed: "DISCOVERY_FAILED",
}

// String returns the string representation of the state
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition can happen within a run
func (s State) Terminal() bool {
	switch s {
	case StateInProgress, StateTooSmall, StateUpToDate, StateDownloadFailed,
		StateUploadFailed, StateCoverFailed, StatePersisted, StatePersistFailed,
		StateDiscoveryFailed:
		return true
	}
	return false
}

// Failed reports whether the terminal state represents a failure
func (s State) Failed() bool {
	switch s {
	case StateDownloadFailed, StateUploadFailed, StateCoverFailed,
		StatePersistFailed, StateDiscoveryFailed:
		return true
	}
	return false
}

// transitions lists the legal successor states
var transitions = map[State][]State{
	StatePending:         {StateFound, StateInProgress, StateDiscoveryFailed},
	StateFound:           {StateInProgress, StateTooSmall, StateUpToDate, StateDownloading, StateDiscoveryFailed},
	StateDownloading:     {StateDownloadFailed, StateTooSmall, StateUpToDate, StateUploading},
	StateUploading:       {StateUploadFailed, StateCoverGenerating},
	StateCoverGenerating: {StateCoverFailed, StatePersisted, StatePersistFailed},
}

// CanTransition reports whether moving from s to next is allowed
func (s State) CanTransition(next State) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}
