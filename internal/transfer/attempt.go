package transfer

import "fmt"

// Phase is the state of one upload or download attempt
type Phase string

const (
	PhaseUploading   Phase = "uploading"
	PhaseDownloading Phase = "downloading"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// Terminal reports whether no event follows p
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Progress is one milestone of an attempt
type Progress struct {
	TransferID string
	Percent    int
	Phase      Phase
	Message    string
}

// Result is what a finished attempt produced
type Result struct {
	TransferID string
	// Path is the saved file of a download
	Path string
	// FileURL is the backend download URL of an upload
	FileURL string
	Message string
}

// TransferIOError reports a missing source file, a non-2xx endpoint
// response or a failed local write
type TransferIOError struct {
	Op  string
	Err error
}

func (e *TransferIOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferIOError) Unwrap() error {
	return e.Err
}

// milestone events never exceed this per attempt
const eventBuffer = 8

// Attempt is one in-flight upload or download. Events is closed after the
// terminal event whether or not anyone reads it.
type Attempt struct {
	transferID string
	events     chan Progress
	done       chan struct{}
	result     Result
	err        error
}

func start(transferID string, run func(emit func(Progress)) (Result, error)) *Attempt {
	a := &Attempt{
		transferID: transferID,
		events:     make(chan Progress, eventBuffer),
		done:       make(chan struct{}),
	}

	go func() {
		defer close(a.done)
		last := 0
		emit := func(p Progress) {
			// progress never goes back within an attempt
			if p.Percent < last {
				p.Percent = last
			}
			last = p.Percent
			p.TransferID = transferID
			a.events <- p
		}

		res, err := run(emit)
		res.TransferID = transferID
		if err != nil {
			emit(Progress{Phase: PhaseFailed, Percent: last, Message: err.Error()})
		} else {
			emit(Progress{Phase: PhaseCompleted, Percent: 100, Message: res.Message})
		}
		a.result, a.err = res, err
		close(a.events)
	}()
	return a
}

func (a *Attempt) TransferID() string {
	return a.transferID
}

// Events yields milestones in order and is closed when the attempt ends
func (a *Attempt) Events() <-chan Progress {
	return a.events
}

// Wait blocks until the attempt ends
func (a *Attempt) Wait() (Result, error) {
	<-a.done
	return a.result, a.err
}

// Done is closed when the attempt ends
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}
