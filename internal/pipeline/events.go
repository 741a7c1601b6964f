package pipeline

// State is the engine's lifecycle or current activity.
type State string

const (
	StateIdle        State = "idle"
	StateDownloading State = "downloading"
	StateLoading     State = "loading"
	StateReady       State = "ready"
	StateDetecting   State = "detecting"
	StateEmbedding   State = "embedding"
	StateSwapping    State = "swapping"
	StateEnhancing   State = "enhancing"
	StateDisposed    State = "disposed"
)

// Phase names a stage reported to the host.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseLoading  Phase = "loading"
	PhaseEmbed    Phase = "embed"
	PhaseSwap     Phase = "swap"
	PhaseEnhance  Phase = "enhance"
	PhaseDone     Phase = "done"
)

// EventKind separates phase changes from progress updates.
type EventKind int

const (
	EventPhase EventKind = iota
	EventProgress
)

// Event is an asynchronous notification. Progress during PhaseDownload
// counts bytes of Model; during swap and enhance it counts faces.
type Event struct {
	Kind    EventKind
	Phase   Phase
	Model   string
	Current int64
	Total   int64
}

// EventFunc receives events on the goroutine running the call.
type EventFunc func(Event)
